package routing

import (
	"context"
	"strings"
	"testing"

	"SkillRouter/internal/ledger"
)

func newStoreWithTask(t *testing.T, skill string, status ledger.Status) ledger.Store {
	t.Helper()
	store := ledger.NewMemoryStore()
	task := &ledger.Task{ID: "task_r", Title: "route me", Skill: skill, BudgetUSD: "1", Status: status}
	if err := store.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	return store
}

func registerAgents(t *testing.T, store ledger.Store, agents ...*ledger.Agent) {
	t.Helper()
	for _, agent := range agents {
		if _, err := store.UpsertAgent(context.Background(), agent); err != nil {
			t.Fatalf("注册执行者 %s 失败: %v", agent.ID, err)
		}
	}
}

func TestRoutePicksFirstSkillMatch(t *testing.T) {
	store := newStoreWithTask(t, "b", ledger.StatusOpen)
	registerAgents(t, store,
		&ledger.Agent{ID: "agent:a", Name: "A", Skills: []string{"a"}},
		&ledger.Agent{ID: "agent:b", Name: "B", Skills: []string{"b"}},
	)

	engine := NewEngine(store)
	task, match, err := engine.Route(context.Background(), "task_r")
	if err != nil {
		t.Fatalf("路由失败: %v", err)
	}
	if match.ID != "agent:b" {
		t.Fatalf("应选中技能匹配的执行者, 实际 %s", match.ID)
	}
	if task.Status != ledger.StatusRouted || task.WorkerAgentID != "agent:b" {
		t.Fatalf("路由后任务状态不符: %+v", task)
	}
}

func TestRouteFallsBackToFirstAgent(t *testing.T) {
	store := newStoreWithTask(t, "z", ledger.StatusOpen)
	registerAgents(t, store,
		&ledger.Agent{ID: "agent:a", Name: "A", Skills: []string{"a"}},
		&ledger.Agent{ID: "agent:b", Name: "B", Skills: []string{"b"}},
	)

	engine := NewEngine(store)
	_, match, err := engine.Route(context.Background(), "task_r")
	if err != nil {
		t.Fatalf("路由失败: %v", err)
	}
	if match.ID != "agent:a" {
		t.Fatalf("无技能匹配时应回退到第一个执行者, 实际 %s", match.ID)
	}
}

func TestRouteNoAgentsAvailable(t *testing.T) {
	store := newStoreWithTask(t, "translate", ledger.StatusOpen)
	engine := NewEngine(store)

	_, _, err := engine.Route(context.Background(), "task_r")
	if err == nil || !strings.Contains(err.Error(), "No agents available") {
		t.Fatalf("期望 No agents available, 实际 %v", err)
	}

	// 失败的路由不应改变任务状态
	task, getErr := store.GetTask(context.Background(), "task_r")
	if getErr != nil {
		t.Fatalf("查询任务失败: %v", getErr)
	}
	if task.Status != ledger.StatusOpen || task.WorkerAgentID != "" {
		t.Fatalf("失败路由后任务不应变化: %+v", task)
	}
}

func TestRouteSeedsFallbackAgents(t *testing.T) {
	store := newStoreWithTask(t, "translate", ledger.StatusOpen)
	engine := NewEngine(store, WithFallbackAgents([]*ledger.Agent{
		{ID: "agent:fallback", Name: "Fallback", Skills: []string{"translate"}, Address: ledger.ZeroAddress},
	}))

	_, match, err := engine.Route(context.Background(), "task_r")
	if err != nil {
		t.Fatalf("路由失败: %v", err)
	}
	if match.ID != "agent:fallback" {
		t.Fatalf("空账本时应播种兜底执行者, 实际 %s", match.ID)
	}
}

func TestClaimHappyPath(t *testing.T) {
	store := newStoreWithTask(t, "translate", ledger.StatusOpen)
	registerAgents(t, store, &ledger.Agent{ID: "agent:w", Name: "W", Skills: []string{"translate"}})

	engine := NewEngine(store)
	task, agent, err := engine.Claim(context.Background(), "task_r", "agent:w")
	if err != nil {
		t.Fatalf("认领失败: %v", err)
	}
	if task.Status != ledger.StatusRouted || task.WorkerAgentID != "agent:w" || agent.ID != "agent:w" {
		t.Fatalf("认领结果不符: task=%+v agent=%+v", task, agent)
	}
}

func TestClaimRejectsNonOpenTask(t *testing.T) {
	store := newStoreWithTask(t, "translate", ledger.StatusRouted)
	registerAgents(t, store, &ledger.Agent{ID: "agent:w", Name: "W", Skills: []string{"translate"}})

	engine := NewEngine(store)
	_, _, err := engine.Claim(context.Background(), "task_r", "agent:w")
	if err == nil || !strings.Contains(err.Error(), "Task is ROUTED, not OPEN") {
		t.Fatalf("错误信息应包含当前状态, 实际 %v", err)
	}
}

func TestClaimRejectsUnknownAgent(t *testing.T) {
	store := newStoreWithTask(t, "translate", ledger.StatusOpen)
	engine := NewEngine(store)

	_, _, err := engine.Claim(context.Background(), "task_r", "agent:ghost")
	if err == nil || !strings.Contains(err.Error(), "Register first") {
		t.Fatalf("应提示先注册, 实际 %v", err)
	}
}

func TestClaimRejectsMissingSkill(t *testing.T) {
	store := newStoreWithTask(t, "translate", ledger.StatusOpen)
	registerAgents(t, store, &ledger.Agent{ID: "agent:w", Name: "W", Skills: []string{"summarize", "celoscan"}})

	engine := NewEngine(store)
	_, _, err := engine.Claim(context.Background(), "task_r", "agent:w")
	if err == nil || !strings.Contains(err.Error(), "summarize, celoscan") {
		t.Fatalf("错误信息应列出执行者技能, 实际 %v", err)
	}
}

func TestCustomStrategyOverride(t *testing.T) {
	store := newStoreWithTask(t, "translate", ledger.StatusOpen)
	registerAgents(t, store,
		&ledger.Agent{ID: "agent:a", Name: "A", Skills: []string{"translate"}},
		&ledger.Agent{ID: "agent:b", Name: "B", Skills: []string{"translate"}},
	)

	last := Strategy(func(_ *ledger.Task, agents []*ledger.Agent) *ledger.Agent {
		if len(agents) == 0 {
			return nil
		}
		return agents[len(agents)-1]
	})

	engine := NewEngine(store, WithStrategy(last))
	_, match, err := engine.Route(context.Background(), "task_r")
	if err != nil {
		t.Fatalf("路由失败: %v", err)
	}
	if match.ID != "agent:b" {
		t.Fatalf("自定义策略应生效, 实际 %s", match.ID)
	}
}
