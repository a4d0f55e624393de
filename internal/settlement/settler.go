package settlement

import (
	"context"
	"crypto/ecdsa"
	stdErrors "errors"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	xerrors "SkillRouter/internal/errors"
	"SkillRouter/internal/ledger"
	"SkillRouter/internal/observability/metrics"
	"SkillRouter/internal/web3"
	"SkillRouter/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultConfirmWait 是托管模式下等待交易确认的上限。超时不报错，
// 降级为未确认，交由对账流程后续刷新。
const DefaultConfirmWait = 25 * time.Second

// Notifier 在托管支付未及时确认时登记待对账的任务。
type Notifier interface {
	EnqueueRefresh(ctx context.Context, taskID string) error
}

// OutcomeKind 区分一次审批的三种结果。
type OutcomeKind string

const (
	// OutcomeTerms 表示未付款，返回了 402 支付条款。
	OutcomeTerms OutcomeKind = "terms"
	// OutcomePaid 表示托管模式已代付。
	OutcomePaid OutcomeKind = "paid"
	// OutcomeFinalized 表示调用方自付的交易已核验通过。
	OutcomeFinalized OutcomeKind = "finalized"
)

// Outcome 是 Approve 的结果。Kind 为 OutcomeTerms 时 Terms 非空且任务
// 未发生任何变更；其余两种 Kind 下 Task 为落库后的最新记录。
type Outcome struct {
	Kind         OutcomeKind
	Task         *ledger.Task
	Terms        *PaymentTerms
	PayoutTxHash string
	ReceiptFound bool
}

// Settler 执行支付结算协议。同一任务的审批通过按任务 ID 粒度的互斥锁
// 串行化，避免并发审批双重代付。
type Settler struct {
	store        ledger.Store
	gateway      web3.Gateway
	network      web3.Network
	operatorKey  *ecdsa.PrivateKey
	operatorAddr common.Address
	confirmWait  time.Duration
	notifier     Notifier
	log          *slog.Logger

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// Option 配置 Settler。
type Option func(*Settler)

// WithOperatorKey 配置托管付款私钥。不配置时进入开放模式。
func WithOperatorKey(key *ecdsa.PrivateKey) Option {
	return func(s *Settler) {
		s.operatorKey = key
		if key != nil {
			s.operatorAddr = crypto.PubkeyToAddress(key.PublicKey)
		}
	}
}

// WithConfirmWait 覆盖托管模式的确认等待上限。
func WithConfirmWait(d time.Duration) Option {
	return func(s *Settler) {
		if d > 0 {
			s.confirmWait = d
		}
	}
}

// WithNotifier 配置对账登记器。
func WithNotifier(n Notifier) Option {
	return func(s *Settler) {
		s.notifier = n
	}
}

// NewSettler 创建结算器。
func NewSettler(store ledger.Store, gateway web3.Gateway, network web3.Network, opts ...Option) *Settler {
	s := &Settler{
		store:       store,
		gateway:     gateway,
		network:     network,
		confirmWait: DefaultConfirmWait,
		log:         logger.Named("settlement"),
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OperatorAddress 返回托管付款地址，未配置私钥时为零地址。
func (s *Settler) OperatorAddress() common.Address {
	return s.operatorAddr
}

func (s *Settler) lockTask(taskID string) func() {
	s.lockMu.Lock()
	mu, ok := s.locks[taskID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[taskID] = mu
	}
	s.lockMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// Submit 记录执行者的交付物并把任务推进到 SUBMITTED。
func (s *Settler) Submit(ctx context.Context, taskID, output string) (*ledger.Task, error) {
	if strings.TrimSpace(output) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "output 不能为空")
	}
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}

	status := ledger.StatusSubmitted
	updated, err := s.store.UpdateTask(ctx, taskID, ledger.TaskPatch{
		Status:     &status,
		Submission: &output,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("收到交付物", "task_id", taskID, "bytes", len(output))
	return updated, nil
}

// Approve 执行审批。payoutTxHash 非空时进入核验模式；否则依据是否配置
// 托管私钥选择代付或返回支付条款。同一任务串行执行。
func (s *Settler) Approve(ctx context.Context, taskID, payoutTxHash string) (*Outcome, error) {
	unlock := s.lockTask(taskID)
	defer unlock()

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.WorkerAgentID == "" {
		return nil, xerrors.New(xerrors.CodePreconditionFailed, "Task not routed")
	}

	worker, err := s.store.GetAgent(ctx, task.WorkerAgentID)
	if err != nil {
		if stdErrors.Is(err, ledger.ErrAgentNotFound) {
			return nil, xerrors.New(xerrors.CodePreconditionFailed, "Worker not found")
		}
		return nil, err
	}

	usd, units := ResolveBudget(task.BudgetUSD)
	payoutTxHash = strings.TrimSpace(payoutTxHash)

	// 防重复支付: 已审批或已登记过付款哈希后，一律拒绝再次审批，
	// 携带新哈希也不行，付款记录写入后不可覆盖。
	if task.Status == ledger.StatusApproved || task.PayoutTxHash != "" {
		return nil, xerrors.New(xerrors.CodeConflict, "Task already approved / payout already initiated.")
	}

	switch DecideMode(payoutTxHash != "", s.operatorKey != nil) {
	case ModeFinalize:
		return s.finalize(ctx, task, worker, units, payoutTxHash)
	case ModeCustodial:
		return s.custodial(ctx, task, worker, units)
	default:
		return s.paymentTerms(task, worker, usd, units)
	}
}

// paymentTerms 开放模式: 不做任何变更，返回 402 支付条款。
func (s *Settler) paymentTerms(task *ledger.Task, worker *ledger.Agent, usd int64, units *big.Int) (*Outcome, error) {
	if !worker.Payable() {
		return nil, xerrors.New(xerrors.CodePreconditionFailed,
			"No payable worker address. Register an agent with a real onchain address, then route again.")
	}
	return &Outcome{
		Kind:  OutcomeTerms,
		Task:  task,
		Terms: BuildPaymentTerms(task, worker, s.network, usd, units),
	}, nil
}

// custodial 托管模式: 快照余额、代付、限时等待确认后落库。
func (s *Settler) custodial(ctx context.Context, task *ledger.Task, worker *ledger.Agent, units *big.Int) (*Outcome, error) {
	if !worker.Payable() {
		return nil, xerrors.New(xerrors.CodePreconditionFailed,
			"Worker address is 0x0. Register a worker agent with a real onchain address.")
	}
	workerAddr := common.HexToAddress(worker.Address)

	fromBefore, err := s.gateway.TokenBalance(ctx, s.network.Token, s.operatorAddr)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeGatewayFailure, err, "读取付款方余额失败")
	}
	toBefore, err := s.gateway.TokenBalance(ctx, s.network.Token, workerAddr)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeGatewayFailure, err, "读取收款方余额失败")
	}

	// 提交失败不改动任务，调用方可以安全重试审批。
	hash, err := s.gateway.TransferToken(ctx, s.network.Token, s.operatorKey, workerAddr, units)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeGatewayFailure, err, "提交代付转账失败")
	}
	s.log.Info("托管代付已提交", "task_id", task.ID, "tx", hash.Hex(), "amount", units.String())

	// 限时等待确认。超时只降级为未确认，绝不让审批失败。
	receiptFound := false
	confirmation := web3.ConfirmationPending
	fromAfter, toAfter := fromBefore, toBefore

	waitCtx, cancel := context.WithTimeout(ctx, s.confirmWait)
	defer cancel()
	if _, waitErr := s.gateway.WaitForTransfer(waitCtx, hash, s.network.Token, workerAddr, units); waitErr == nil {
		receiptFound = true
		confirmation = web3.ConfirmationConfirmed
		if after, balErr := s.gateway.TokenBalance(ctx, s.network.Token, s.operatorAddr); balErr == nil {
			fromAfter = after
		}
		if after, balErr := s.gateway.TokenBalance(ctx, s.network.Token, workerAddr); balErr == nil {
			toAfter = after
		}
	} else {
		if !stdErrors.Is(waitErr, context.DeadlineExceeded) {
			confirmation = web3.ConfirmationUnknown
		}
		s.log.Warn("代付确认超时, 转交对账流程", "task_id", task.ID, "tx", hash.Hex(), "error", waitErr)
		if s.notifier != nil {
			if enqErr := s.notifier.EnqueueRefresh(ctx, task.ID); enqErr != nil {
				s.log.Warn("登记对账任务失败", "task_id", task.ID, "error", enqErr)
			}
		}
	}

	status := ledger.StatusApproved
	txHex := hash.Hex()
	fromAddr := s.operatorAddr.Hex()
	conf := string(confirmation)
	fromBeforeStr, fromAfterStr := fromBefore.String(), fromAfter.String()
	toBeforeStr, toAfterStr := toBefore.String(), toAfter.String()
	updated, err := s.store.UpdateTask(ctx, task.ID, ledger.TaskPatch{
		Status:                  &status,
		PayoutTxHash:            &txHex,
		PayoutReceiptFound:      &receiptFound,
		PayoutConfirmation:      &conf,
		PayoutFromAddress:       &fromAddr,
		PayoutFromBalanceBefore: &fromBeforeStr,
		PayoutFromBalanceAfter:  &fromAfterStr,
		PayoutToBalanceBefore:   &toBeforeStr,
		PayoutToBalanceAfter:    &toAfterStr,
	})
	if err != nil {
		return nil, err
	}

	metrics.ObservePayout(string(ModeCustodial), receiptFound)
	logger.Audit().Info("任务审批通过",
		"task_id", task.ID, "mode", string(ModeCustodial), "tx", txHex,
		"from", fromAddr, "to", worker.Address, "amount", units.String(), "confirmed", receiptFound)
	return &Outcome{Kind: OutcomePaid, Task: updated, PayoutTxHash: txHex, ReceiptFound: receiptFound}, nil
}

// finalize 核验模式: 验证调用方提交的交易确实向执行者支付了足额代币。
// 核验失败不做任何变更，调用方可修正后重试。
func (s *Settler) finalize(ctx context.Context, task *ledger.Task, worker *ledger.Agent, units *big.Int, payoutTxHash string) (*Outcome, error) {
	workerAddr := common.HexToAddress(worker.Address)
	txHash := common.HexToHash(payoutTxHash)

	waitCtx, cancel := context.WithTimeout(ctx, s.confirmWait)
	defer cancel()
	proof, err := s.gateway.WaitForTransfer(waitCtx, txHash, s.network.Token, workerAddr, units)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeVerificationFailed, err,
			"Could not verify payout transfer in tx logs (wrong token/recipient/amount or not confirmed yet).")
	}

	status := ledger.StatusApproved
	receiptFound := true
	conf := string(web3.ConfirmationConfirmed)
	fromAddr := proof.From.Hex()
	patch := ledger.TaskPatch{
		Status:             &status,
		PayoutTxHash:       &payoutTxHash,
		PayoutReceiptFound: &receiptFound,
		PayoutConfirmation: &conf,
		PayoutFromAddress:  &fromAddr,
	}
	if toAfter, balErr := s.gateway.TokenBalance(ctx, s.network.Token, workerAddr); balErr == nil {
		after := toAfter.String()
		patch.PayoutToBalanceAfter = &after
	}

	updated, err := s.store.UpdateTask(ctx, task.ID, patch)
	if err != nil {
		return nil, err
	}

	metrics.ObservePayout(string(ModeFinalize), true)
	logger.Audit().Info("任务审批通过",
		"task_id", task.ID, "mode", string(ModeFinalize), "tx", payoutTxHash,
		"from", fromAddr, "to", worker.Address, "min_amount", units.String())
	return &Outcome{Kind: OutcomeFinalized, Task: updated, PayoutTxHash: payoutTxHash, ReceiptFound: true}, nil
}
