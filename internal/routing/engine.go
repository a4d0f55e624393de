package routing

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"

	xerrors "SkillRouter/internal/errors"
	"SkillRouter/internal/ledger"
	"SkillRouter/pkg/logger"
)

// Engine 负责把任务指派给执行者，包含平台侧路由与执行者主动认领两条路径。
type Engine struct {
	store    ledger.Store
	strategy Strategy
	fallback []*ledger.Agent
	log      *slog.Logger
}

// Option 配置路由引擎。
type Option func(*Engine)

// WithStrategy 替换默认的 FirstMatch 匹配策略。
func WithStrategy(strategy Strategy) Option {
	return func(e *Engine) {
		if strategy != nil {
			e.strategy = strategy
		}
	}
}

// WithFallbackAgents 设置兜底执行者: 当路由时没有任何已注册执行者,
// 先播种这批执行者再匹配，保证演示环境的首次路由不会落空。
func WithFallbackAgents(agents []*ledger.Agent) Option {
	return func(e *Engine) {
		e.fallback = agents
	}
}

// NewEngine 创建路由引擎。
func NewEngine(store ledger.Store, opts ...Option) *Engine {
	engine := &Engine{
		store:    store,
		strategy: FirstMatch(),
		log:      logger.Named("routing"),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// Route 按匹配策略为任务指派执行者。成功后任务进入 ROUTED 状态并记录
// workerAgentId，不改动其他字段。
func (e *Engine) Route(ctx context.Context, taskID string) (*ledger.Task, *ledger.Agent, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}

	if len(e.fallback) > 0 {
		if err := e.store.SeedAgents(ctx, e.fallback); err != nil {
			return nil, nil, err
		}
	}

	agents, err := e.store.ListAgents(ctx)
	if err != nil {
		return nil, nil, err
	}

	match := e.strategy(task, agents)
	if match == nil {
		return nil, nil, xerrors.New(xerrors.CodePreconditionFailed, "No agents available")
	}

	status := ledger.StatusRouted
	updated, err := e.store.UpdateTask(ctx, taskID, ledger.TaskPatch{
		Status:        &status,
		WorkerAgentID: &match.ID,
	})
	if err != nil {
		return nil, nil, err
	}

	e.log.Info("任务已路由", "task_id", taskID, "agent_id", match.ID, "skill", task.Skill)
	return updated, match, nil
}

// Claim 由执行者主动认领任务。只有 OPEN 状态的任务可以被认领，且执行者
// 必须具备任务所需技能。
func (e *Engine) Claim(ctx context.Context, taskID, agentID string) (*ledger.Task, *ledger.Agent, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}

	if task.Status != ledger.StatusOpen {
		return nil, nil, xerrors.New(xerrors.CodePreconditionFailed,
			fmt.Sprintf("Task is %s, not OPEN. Only OPEN tasks can be claimed.", task.Status))
	}

	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		if stdErrors.Is(err, ledger.ErrAgentNotFound) {
			return nil, nil, xerrors.New(xerrors.CodePreconditionFailed,
				fmt.Sprintf("Agent %s not found. Register first via POST /agents/register.", agentID))
		}
		return nil, nil, err
	}

	if !agent.HasSkill(task.Skill) {
		return nil, nil, xerrors.New(xerrors.CodePreconditionFailed,
			fmt.Sprintf("Agent does not have skill %q. Agent skills: %s", task.Skill, strings.Join(agent.Skills, ", ")))
	}

	status := ledger.StatusRouted
	updated, err := e.store.UpdateTask(ctx, taskID, ledger.TaskPatch{
		Status:        &status,
		WorkerAgentID: &agent.ID,
	})
	if err != nil {
		return nil, nil, err
	}

	e.log.Info("任务已被认领", "task_id", taskID, "agent_id", agent.ID)
	return updated, agent, nil
}
