package ledger

import "strings"

// ZeroAddress 表示"尚不可收款"的占位地址。
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Agent 描述一个已注册的执行者，id 由调用方选定并全局唯一。
// 重复注册同一 id 会整体覆盖所有字段（upsert 语义，不做合并）。
type Agent struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Skills  []string `json:"skills"`
	Address string   `json:"address"`
}

// HasSkill 判断技能集合中是否包含指定技能。
func (a *Agent) HasSkill(skill string) bool {
	if a == nil {
		return false
	}
	for _, s := range a.Skills {
		if s == skill {
			return true
		}
	}
	return false
}

// Payable 判断该执行者是否具有可以收款的链上地址。
func (a *Agent) Payable() bool {
	if a == nil || a.Address == "" {
		return false
	}
	return !strings.EqualFold(a.Address, ZeroAddress)
}

func cloneAgent(agent *Agent) *Agent {
	clone := *agent
	clone.Skills = append([]string(nil), agent.Skills...)
	return &clone
}
