// Package routing 实现任务到执行者的匹配策略与路由引擎。
package routing

import "SkillRouter/internal/ledger"

// Strategy 从候选执行者中为任务挑选一个执行者，无可用者返回 nil。
// 候选列表按注册顺序排列。
type Strategy func(task *ledger.Task, agents []*ledger.Agent) *ledger.Agent

// FirstMatch 返回默认的贪心匹配策略: 优先选择第一个具备任务所需技能的
// 执行者，否则退化为第一个已注册的执行者。契约(先精确匹配、再兜底、
// 再失败)是外部可观察行为的一部分，不做负载均衡或能力排序。
func FirstMatch() Strategy {
	return func(task *ledger.Task, agents []*ledger.Agent) *ledger.Agent {
		if task == nil || len(agents) == 0 {
			return nil
		}
		for _, agent := range agents {
			if agent.HasSkill(task.Skill) {
				return agent
			}
		}
		return agents[0]
	}
}
