package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	xerrors "SkillRouter/internal/errors"
)

// MemoryStore 以内存方式保存账本数据。进程重启后数据丢失，
// 定位是演示与测试场景下持久化存储的占位实现。
type MemoryStore struct {
	mu     sync.RWMutex
	agents []*Agent
	tasks  []*Task
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// UpsertAgent 实现 Store 接口。已存在的 id 原位覆盖，保持注册顺序。
func (m *MemoryStore) UpsertAgent(_ context.Context, agent *Agent) (*Agent, error) {
	if agent == nil || strings.TrimSpace(agent.ID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent id 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := cloneAgent(agent)
	for i, existing := range m.agents {
		if existing.ID == agent.ID {
			m.agents[i] = stored
			return cloneAgent(stored), nil
		}
	}
	m.agents = append(m.agents, stored)
	return cloneAgent(stored), nil
}

// ListAgents 按注册顺序返回全部执行者。
func (m *MemoryStore) ListAgents(_ context.Context) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*Agent, 0, len(m.agents))
	for _, agent := range m.agents {
		results = append(results, cloneAgent(agent))
	}
	return results, nil
}

// GetAgent 返回指定执行者。
func (m *MemoryStore) GetAgent(_ context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, agent := range m.agents {
		if agent.ID == id {
			return cloneAgent(agent), nil
		}
	}
	return nil, ErrAgentNotFound
}

// SeedAgents 仅在集合为空时写入种子执行者。
func (m *MemoryStore) SeedAgents(_ context.Context, agents []*Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.agents) > 0 {
		return nil
	}
	for _, agent := range agents {
		if agent == nil || strings.TrimSpace(agent.ID) == "" {
			continue
		}
		m.agents = append(m.agents, cloneAgent(agent))
	}
	return nil
}

// CreateTask 写入新任务，列表保持最新优先。
func (m *MemoryStore) CreateTask(_ context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if strings.TrimSpace(task.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.tasks {
		if existing.ID == task.ID {
			return ErrTaskConflict
		}
	}
	if task.CreatedAt == 0 {
		task.CreatedAt = time.Now().Unix()
	}
	m.tasks = append([]*Task{cloneTask(task)}, m.tasks...)
	return nil
}

// ListTasks 按创建顺序倒序返回全部任务。
func (m *MemoryStore) ListTasks(_ context.Context) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		results = append(results, cloneTask(task))
	}
	return results, nil
}

// GetTask 返回指定任务。
func (m *MemoryStore) GetTask(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, task := range m.tasks {
		if task.ID == id {
			return cloneTask(task), nil
		}
	}
	return nil, ErrTaskNotFound
}

// UpdateTask 将补丁浅合并进既有记录。
func (m *MemoryStore) UpdateTask(_ context.Context, id string, patch TaskPatch) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range m.tasks {
		if task.ID == id {
			patch.apply(task)
			return cloneTask(task), nil
		}
	}
	return nil, ErrTaskNotFound
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
