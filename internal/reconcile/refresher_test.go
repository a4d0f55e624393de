package reconcile

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"SkillRouter/internal/ledger"
	"SkillRouter/internal/observability/alerting"
	"SkillRouter/internal/web3"
	"github.com/ethereum/go-ethereum/common"
)

const (
	testWorkerAddress = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	testPayerAddress  = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
	testPayoutTx      = "0x2222222222222222222222222222222222222222222222222222222222222222"
)

type stubGateway struct {
	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	hasReceipt bool
	receiptErr error
}

func newStubGateway() *stubGateway {
	return &stubGateway{balances: make(map[common.Address]*big.Int)}
}

func (g *stubGateway) setBalance(owner common.Address, v int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[owner] = big.NewInt(v)
}

func (g *stubGateway) TokenBalance(_ context.Context, _, owner common.Address) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.balances[owner]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (g *stubGateway) TransferToken(_ context.Context, _ common.Address, _ *ecdsa.PrivateKey, _ common.Address, _ *big.Int) (common.Hash, error) {
	return common.Hash{}, nil
}

func (g *stubGateway) WaitForTransfer(_ context.Context, _ common.Hash, _, _ common.Address, _ *big.Int) (*web3.TransferProof, error) {
	return nil, context.DeadlineExceeded
}

func (g *stubGateway) HasReceipt(_ context.Context, _ common.Hash) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hasReceipt, g.receiptErr
}

func (g *stubGateway) Close() {}

func seedPaidTask(t *testing.T, store ledger.Store) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.UpsertAgent(ctx, &ledger.Agent{
		ID: "agent:w", Name: "Worker", Skills: []string{"translate"}, Address: testWorkerAddress,
	}); err != nil {
		t.Fatalf("注册执行者失败: %v", err)
	}
	if err := store.CreateTask(ctx, &ledger.Task{
		ID: "task_p", Title: "paid", Skill: "translate", BudgetUSD: "1",
		Status: ledger.StatusApproved, WorkerAgentID: "agent:w",
		PayoutTxHash: testPayoutTx, PayoutFromAddress: testPayerAddress,
		PayoutConfirmation: string(web3.ConfirmationPending),
		PayoutFromBalanceBefore: "100", PayoutFromBalanceAfter: "100",
		PayoutToBalanceBefore: "0", PayoutToBalanceAfter: "0",
	}); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
}

func TestRefreshPreconditions(t *testing.T) {
	store := ledger.NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateTask(ctx, &ledger.Task{
		ID: "task_n", Title: "no tx", Skill: "translate", BudgetUSD: "1", Status: ledger.StatusSubmitted,
	}); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	if err := store.CreateTask(ctx, &ledger.Task{
		ID: "task_m", Title: "no from", Skill: "translate", BudgetUSD: "1",
		Status: ledger.StatusApproved, WorkerAgentID: "agent:w", PayoutTxHash: testPayoutTx,
	}); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	if _, err := store.UpsertAgent(ctx, &ledger.Agent{ID: "agent:w", Name: "W", Address: testWorkerAddress}); err != nil {
		t.Fatalf("注册执行者失败: %v", err)
	}

	refresher := NewRefresher(store, newStubGateway(), web3.CeloSepolia())

	if _, _, err := refresher.Refresh(ctx, "task_n"); err == nil ||
		!strings.Contains(err.Error(), "No payout tx to refresh") {
		t.Fatalf("无付款哈希应被拒绝, 实际 %v", err)
	}
	if _, _, err := refresher.Refresh(ctx, "task_m"); err == nil ||
		!strings.Contains(err.Error(), "Missing payoutFromAddress") {
		t.Fatalf("缺失付款地址应给出指引, 实际 %v", err)
	}
}

func TestRefreshUpdatesObservationalFieldsOnly(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedPaidTask(t, store)

	gateway := newStubGateway()
	gateway.hasReceipt = true
	gateway.setBalance(common.HexToAddress(testPayerAddress), 99)
	gateway.setBalance(common.HexToAddress(testWorkerAddress), 1)

	refresher := NewRefresher(store, gateway, web3.CeloSepolia())
	task, receiptFound, err := refresher.Refresh(context.Background(), "task_p")
	if err != nil {
		t.Fatalf("刷新失败: %v", err)
	}
	if !receiptFound || !task.PayoutReceiptFound {
		t.Fatalf("回执可取时应标记 receiptFound")
	}
	if task.PayoutConfirmation != string(web3.ConfirmationConfirmed) {
		t.Fatalf("确认状态不符: %s", task.PayoutConfirmation)
	}
	if task.PayoutFromBalanceAfter != "99" || task.PayoutToBalanceAfter != "1" {
		t.Fatalf("after 余额应重新读取: from=%s to=%s",
			task.PayoutFromBalanceAfter, task.PayoutToBalanceAfter)
	}
	// 对账只刷新观测字段
	if task.Status != ledger.StatusApproved {
		t.Fatalf("刷新不得改动任务状态: %s", task.Status)
	}
	if task.PayoutFromBalanceBefore != "100" || task.PayoutToBalanceBefore != "0" {
		t.Fatalf("before 余额不应被覆盖")
	}
}

func TestRefreshReceiptLookupFailureDegrades(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedPaidTask(t, store)

	gateway := newStubGateway()
	gateway.receiptErr = context.DeadlineExceeded
	gateway.setBalance(common.HexToAddress(testPayerAddress), 98)

	refresher := NewRefresher(store, gateway, web3.CeloSepolia())
	task, receiptFound, err := refresher.Refresh(context.Background(), "task_p")
	if err != nil {
		t.Fatalf("回执查询失败不应让刷新失败: %v", err)
	}
	if receiptFound || task.PayoutReceiptFound {
		t.Fatalf("查询失败应保持 receiptFound=false")
	}
	if task.PayoutConfirmation != string(web3.ConfirmationUnknown) {
		t.Fatalf("查询失败应标记 unknown: %s", task.PayoutConfirmation)
	}
	if task.PayoutFromBalanceAfter != "98" {
		t.Fatalf("余额仍应重新读取: %s", task.PayoutFromBalanceAfter)
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedPaidTask(t, store)

	gateway := newStubGateway()
	gateway.hasReceipt = true

	refresher := NewRefresher(store, gateway, web3.CeloSepolia())
	for i := 0; i < 3; i++ {
		if _, _, err := refresher.Refresh(context.Background(), "task_p"); err != nil {
			t.Fatalf("第 %d 次刷新失败: %v", i+1, err)
		}
	}
	task, _ := store.GetTask(context.Background(), "task_p")
	if task.Status != ledger.StatusApproved {
		t.Fatalf("重复刷新不得改动状态: %s", task.Status)
	}
}

func TestMemoryQueueRoundTrip(t *testing.T) {
	queue := NewMemoryQueue(8)
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var got []string
	go func() {
		_ = queue.Consume(ctx, 2, func(_ context.Context, taskID string) error {
			mu.Lock()
			got = append(got, taskID)
			if len(got) == 2 {
				cancel()
			}
			mu.Unlock()
			return nil
		})
	}()

	if err := queue.Publish(ctx, "task_a"); err != nil {
		t.Fatalf("投递失败: %v", err)
	}
	if err := queue.Publish(ctx, "task_b"); err != nil {
		t.Fatalf("投递失败: %v", err)
	}

	<-ctx.Done()
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("期望消费 2 条, 实际 %d", len(got))
	}

	if err := queue.Close(); err != nil {
		t.Fatalf("关闭队列失败: %v", err)
	}
	if err := queue.Publish(context.Background(), "task_c"); err == nil {
		t.Fatalf("关闭后投递应失败")
	}
}

type captureDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *captureDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func TestWorkerAlertsAfterMaxAttempts(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedPaidTask(t, store)

	gateway := newStubGateway() // 回执一直不可取
	refresher := NewRefresher(store, gateway, web3.CeloSepolia())

	queue := NewMemoryQueue(4)
	dispatcher := &captureDispatcher{}
	worker := NewWorker(refresher, queue, queue,
		WithMaxAttempts(1), WithRetryDelay(time.Millisecond), WithAlertDispatcher(dispatcher))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = worker.Start(ctx) }()

	if err := queue.Publish(ctx, "task_p"); err != nil {
		t.Fatalf("投递失败: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		dispatcher.mu.Lock()
		n := len(dispatcher.events)
		dispatcher.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.events) == 0 {
		t.Fatalf("超过最大尝试次数后应发出告警")
	}
	if dispatcher.events[0].TaskID != "task_p" {
		t.Fatalf("告警应指向对账任务: %+v", dispatcher.events[0])
	}

	task, _ := store.GetTask(context.Background(), "task_p")
	if task.Status != ledger.StatusApproved {
		t.Fatalf("对账工作器不得改动任务状态: %s", task.Status)
	}
}
