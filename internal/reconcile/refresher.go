package reconcile

import (
	"context"
	stdErrors "errors"
	"log/slog"

	xerrors "SkillRouter/internal/errors"
	"SkillRouter/internal/ledger"
	"SkillRouter/internal/observability/metrics"
	"SkillRouter/internal/web3"
	"SkillRouter/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
)

// Refresher 刷新已发起支付的任务的可观测字段: 回执是否可取、确认状态、
// 付款与收款双方的当前余额。只做观测性更新，绝不改动任务状态。
type Refresher struct {
	store   ledger.Store
	gateway web3.Gateway
	network web3.Network
	log     *slog.Logger
}

// NewRefresher 创建 Refresher。
func NewRefresher(store ledger.Store, gateway web3.Gateway, network web3.Network) *Refresher {
	return &Refresher{
		store:   store,
		gateway: gateway,
		network: network,
		log:     logger.Named("reconcile"),
	}
}

// Refresh 对指定任务做一次对账刷新。可重复调用，幂等。
func (r *Refresher) Refresh(ctx context.Context, taskID string) (*ledger.Task, bool, error) {
	task, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, false, err
	}

	if task.PayoutTxHash == "" {
		return nil, false, xerrors.New(xerrors.CodePreconditionFailed, "No payout tx to refresh")
	}
	if task.WorkerAgentID == "" {
		return nil, false, xerrors.New(xerrors.CodePreconditionFailed, "Task not routed")
	}
	worker, err := r.store.GetAgent(ctx, task.WorkerAgentID)
	if err != nil {
		if stdErrors.Is(err, ledger.ErrAgentNotFound) {
			return nil, false, xerrors.New(xerrors.CodePreconditionFailed, "Worker not found")
		}
		return nil, false, err
	}
	if task.PayoutFromAddress == "" {
		return nil, false, xerrors.New(xerrors.CodePreconditionFailed,
			"Missing payoutFromAddress on task. (Approve once to populate it.)")
	}

	// 回执查询尽力而为: 失败只降级为未找到，不让整次刷新失败。
	receiptFound := false
	confirmation := web3.ConfirmationPending
	txHash := common.HexToHash(task.PayoutTxHash)
	if found, receiptErr := r.gateway.HasReceipt(ctx, txHash); receiptErr != nil {
		confirmation = web3.ConfirmationUnknown
		r.log.Warn("查询回执失败", "task_id", taskID, "tx", task.PayoutTxHash, "error", receiptErr)
	} else if found {
		receiptFound = true
		confirmation = web3.ConfirmationConfirmed
	}

	fromNow, err := r.gateway.TokenBalance(ctx, r.network.Token, common.HexToAddress(task.PayoutFromAddress))
	if err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeGatewayFailure, err, "读取付款方余额失败")
	}
	toNow, err := r.gateway.TokenBalance(ctx, r.network.Token, common.HexToAddress(worker.Address))
	if err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeGatewayFailure, err, "读取收款方余额失败")
	}

	conf := string(confirmation)
	fromAfter, toAfter := fromNow.String(), toNow.String()
	updated, err := r.store.UpdateTask(ctx, taskID, ledger.TaskPatch{
		PayoutReceiptFound:     &receiptFound,
		PayoutConfirmation:     &conf,
		PayoutFromBalanceAfter: &fromAfter,
		PayoutToBalanceAfter:   &toAfter,
	})
	if err != nil {
		return nil, false, err
	}

	metrics.ObserveRefresh()
	r.log.Info("刷新对账完成",
		"task_id", taskID, "tx", task.PayoutTxHash,
		"receipt_found", receiptFound, "confirmation", conf)
	return updated, receiptFound, nil
}
