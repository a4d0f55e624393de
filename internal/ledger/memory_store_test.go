package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreUpsertAgentReplacesRecord(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.UpsertAgent(ctx, &Agent{ID: "agent:a", Name: "Alpha", Skills: []string{"translate"}}); err != nil {
		t.Fatalf("第一次注册失败: %v", err)
	}
	if _, err := store.UpsertAgent(ctx, &Agent{ID: "agent:b", Name: "Beta", Skills: []string{"summarize"}}); err != nil {
		t.Fatalf("第二次注册失败: %v", err)
	}
	if _, err := store.UpsertAgent(ctx, &Agent{ID: "agent:a", Name: "Alpha v2", Skills: []string{"celoscan"}}); err != nil {
		t.Fatalf("重复注册失败: %v", err)
	}

	agents, err := store.ListAgents(ctx)
	if err != nil {
		t.Fatalf("列出执行者失败: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("期望 2 个执行者, 实际 %d", len(agents))
	}
	// 重复注册覆盖内容但保留注册顺序
	if agents[0].ID != "agent:a" || agents[0].Name != "Alpha v2" {
		t.Fatalf("覆盖后记录不符: %+v", agents[0])
	}
	if len(agents[0].Skills) != 1 || agents[0].Skills[0] != "celoscan" {
		t.Fatalf("技能列表应被整体替换: %v", agents[0].Skills)
	}
}

func TestMemoryStoreGetAgentNotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.GetAgent(context.Background(), "agent:missing"); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("期望 ErrAgentNotFound, 实际 %v", err)
	}
}

func TestMemoryStoreTasksNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"task_1", "task_2", "task_3"} {
		if err := store.CreateTask(ctx, &Task{ID: id, Title: id, Skill: "translate", BudgetUSD: "1", Status: StatusOpen}); err != nil {
			t.Fatalf("创建任务 %s 失败: %v", id, err)
		}
	}

	tasks, err := store.ListTasks(ctx)
	if err != nil {
		t.Fatalf("列出任务失败: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("期望 3 个任务, 实际 %d", len(tasks))
	}
	if tasks[0].ID != "task_3" || tasks[2].ID != "task_1" {
		t.Fatalf("任务应按最新优先排序: %s, %s, %s", tasks[0].ID, tasks[1].ID, tasks[2].ID)
	}
	if tasks[0].CreatedAt == 0 {
		t.Fatalf("CreateTask 应补齐 CreatedAt")
	}
}

func TestMemoryStoreCreateTaskConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	task := &Task{ID: "task_dup", Title: "dup", Skill: "translate", BudgetUSD: "1", Status: StatusOpen}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	if err := store.CreateTask(ctx, task); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("期望 ErrTaskConflict, 实际 %v", err)
	}
}

func TestMemoryStoreSeedAgentsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.SeedAgents(ctx, DemoAgents("", "")); err != nil {
		t.Fatalf("首次播种失败: %v", err)
	}
	if err := store.SeedAgents(ctx, []*Agent{{ID: "agent:extra", Name: "Extra"}}); err != nil {
		t.Fatalf("重复播种失败: %v", err)
	}

	agents, err := store.ListAgents(ctx)
	if err != nil {
		t.Fatalf("列出执行者失败: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("重复播种不应追加记录, 实际 %d", len(agents))
	}
}

func TestMemoryStoreUpdateTaskPatch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateTask(ctx, &Task{ID: "task_p", Title: "patch me", Skill: "translate", BudgetUSD: "1", Status: StatusOpen}); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}

	status := StatusRouted
	worker := "agent:worker:translator"
	updated, err := store.UpdateTask(ctx, "task_p", TaskPatch{Status: &status, WorkerAgentID: &worker})
	if err != nil {
		t.Fatalf("更新任务失败: %v", err)
	}
	if updated.Status != StatusRouted || updated.WorkerAgentID != worker {
		t.Fatalf("补丁未生效: %+v", updated)
	}
	if updated.Title != "patch me" {
		t.Fatalf("未出现在补丁中的字段不应改变: %q", updated.Title)
	}

	if _, err := store.UpdateTask(ctx, "task_missing", TaskPatch{Status: &status}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("期望 ErrTaskNotFound, 实际 %v", err)
	}
}

func TestMemoryStoreCloneOnRead(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateTask(ctx, &Task{ID: "task_c", Title: "original", Skill: "translate", BudgetUSD: "1", Status: StatusOpen}); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}

	got, err := store.GetTask(ctx, "task_c")
	if err != nil {
		t.Fatalf("查询任务失败: %v", err)
	}
	got.Title = "mutated"

	again, err := store.GetTask(ctx, "task_c")
	if err != nil {
		t.Fatalf("二次查询失败: %v", err)
	}
	if again.Title != "original" {
		t.Fatalf("修改返回值不应影响存储内容: %q", again.Title)
	}
}
