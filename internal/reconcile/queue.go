// Package reconcile 实现支付对账: 托管代付未在限时内确认的任务会进入
// 对账队列，由后台工作协程刷新回执与余额快照。
package reconcile

import "context"

// Handler 处理一条待对账的任务 ID。
type Handler func(ctx context.Context, taskID string) error

// Producer 负责把待对账任务投递进队列。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 负责从队列中取出任务交给 Handler。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备投递与消费能力。
type Queue interface {
	Producer
	Consumer
}

// EnqueueNotifier 把 Producer 适配成结算侧的对账登记接口。
type EnqueueNotifier struct {
	Producer Producer
}

// EnqueueRefresh 登记一个待对账任务。
func (n EnqueueNotifier) EnqueueRefresh(ctx context.Context, taskID string) error {
	if n.Producer == nil {
		return nil
	}
	return n.Producer.Publish(ctx, taskID)
}
