package ledger

import "context"

// Store 抽象了市场账本的持久化接口。协议与状态机逻辑只依赖此接口，
// 便于在内存实现与持久化实现之间切换。
type Store interface {
	// UpsertAgent 按 id 注册或整体覆盖一个执行者，保持其注册顺序。
	UpsertAgent(ctx context.Context, agent *Agent) (*Agent, error)
	// ListAgents 按注册顺序返回全部执行者。
	ListAgents(ctx context.Context) ([]*Agent, error)
	// GetAgent 返回指定执行者，不存在时返回 ErrAgentNotFound。
	GetAgent(ctx context.Context, id string) (*Agent, error)
	// SeedAgents 仅在执行者集合为空时写入种子数据，重复调用是幂等的。
	SeedAgents(ctx context.Context, agents []*Agent) error

	// CreateTask 写入新任务并记录创建时间，列表保持最新优先。
	CreateTask(ctx context.Context, task *Task) error
	// ListTasks 按创建时间倒序返回全部任务。
	ListTasks(ctx context.Context) ([]*Task, error)
	// GetTask 返回指定任务，不存在时返回 ErrTaskNotFound。
	GetTask(ctx context.Context, id string) (*Task, error)
	// UpdateTask 将补丁浅合并进既有记录并返回更新后的任务。
	UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error)

	Close() error
}
