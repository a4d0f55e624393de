package reconcile

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sync"
	"time"

	xerrors "SkillRouter/internal/errors"
	"SkillRouter/internal/ledger"
	"SkillRouter/internal/observability/alerting"
	"SkillRouter/pkg/logger"
)

// Worker 消费对账队列: 对每个任务执行一次刷新，回执仍不可取时延迟
// 重新投递，超过最大尝试次数后发出告警并放弃。
type Worker struct {
	refresher   *Refresher
	consumer    Consumer
	producer    Producer
	workerCount int
	maxAttempts int
	retryDelay  time.Duration
	alerter     alerting.Dispatcher
	log         *slog.Logger

	mu       sync.Mutex
	attempts map[string]int
}

// WorkerOption 定义可选配置。
type WorkerOption func(*Worker)

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) WorkerOption {
	return func(w *Worker) {
		if workers > 0 {
			w.workerCount = workers
		}
	}
}

// WithMaxAttempts 设置单个任务的最大刷新尝试次数。
func WithMaxAttempts(max int) WorkerOption {
	return func(w *Worker) {
		if max > 0 {
			w.maxAttempts = max
		}
	}
}

// WithRetryDelay 设置重新投递前的等待时间。
func WithRetryDelay(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.retryDelay = d
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) WorkerOption {
	return func(w *Worker) {
		w.alerter = dispatcher
	}
}

// NewWorker 构造对账工作器。
func NewWorker(refresher *Refresher, consumer Consumer, producer Producer, opts ...WorkerOption) *Worker {
	w := &Worker{
		refresher:   refresher,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		maxAttempts: 10,
		retryDelay:  10 * time.Second,
		log:         logger.Named("reconcile"),
		attempts:    make(map[string]int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Start 启动消费循环，阻塞到 ctx 取消。
func (w *Worker) Start(ctx context.Context) error {
	if w.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置对账消费者")
	}
	return w.consumer.Consume(ctx, w.workerCount, w.handle)
}

func (w *Worker) handle(ctx context.Context, taskID string) error {
	attempt := w.bumpAttempt(taskID)

	task, receiptFound, err := w.refresher.Refresh(ctx, taskID)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodePreconditionFailed || stdErrors.Is(err, ledger.ErrTaskNotFound) {
			// 任务被删除或从未进入支付阶段，没有可对账的内容。
			w.log.Debug("跳过对账任务", "task_id", taskID, "reason", err.Error())
			w.clearAttempt(taskID)
			return nil
		}
		w.log.Error("刷新对账失败", "task_id", taskID, "attempt", attempt, "error", err)
		return w.retryOrGiveUp(ctx, taskID, "", attempt, err)
	}

	if receiptFound {
		w.log.Info("支付已确认", "task_id", taskID, "tx", task.PayoutTxHash, "attempt", attempt)
		w.clearAttempt(taskID)
		return nil
	}
	return w.retryOrGiveUp(ctx, taskID, task.PayoutTxHash, attempt,
		xerrors.New(xerrors.CodeTimeout, "付款交易仍未确认"))
}

func (w *Worker) retryOrGiveUp(ctx context.Context, taskID, txHash string, attempt int, cause error) error {
	if attempt < w.maxAttempts {
		if w.producer != nil {
			go w.republishLater(ctx, taskID)
			return nil
		}
		// 无生产者时交由队列驱动自身的重投递机制
		return cause
	}

	w.clearAttempt(taskID)
	w.log.Warn("放弃对账任务", "task_id", taskID, "tx", txHash, "attempts", attempt)
	if w.alerter != nil {
		event := alerting.Event{
			Code:       xerrors.CodeOf(cause),
			Message:    cause.Error(),
			Severity:   xerrors.SeverityOf(cause),
			TaskID:     taskID,
			TxHash:     txHash,
			Attempts:   attempt,
			OccurredAt: time.Now(),
		}
		if err := w.alerter.Notify(ctx, event); err != nil {
			w.log.Warn("发送对账告警失败", "task_id", taskID, "error", err)
		}
	}
	return nil
}

func (w *Worker) republishLater(ctx context.Context, taskID string) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(w.retryDelay):
	}
	if err := w.producer.Publish(ctx, taskID); err != nil {
		w.log.Warn("重新投递对账任务失败", "task_id", taskID, "error", err)
	}
}

func (w *Worker) bumpAttempt(taskID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[taskID]++
	return w.attempts[taskID]
}

func (w *Worker) clearAttempt(taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, taskID)
}
