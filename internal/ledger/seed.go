package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// DemoAgents 返回演示环境的两个种子执行者。传入空地址时退化为零地址，
// 表示该执行者暂不可收款。
func DemoAgents(translatorAddress, researcherAddress string) []*Agent {
	if translatorAddress == "" {
		translatorAddress = ZeroAddress
	}
	if researcherAddress == "" {
		researcherAddress = ZeroAddress
	}
	return []*Agent{
		{
			ID:      "agent:worker:translator",
			Name:    "Polyglot Worker",
			Skills:  []string{"translate", "summarize"},
			Address: translatorAddress,
		},
		{
			ID:      "agent:worker:research",
			Name:    "Onchain Researcher",
			Skills:  []string{"onchain-research", "celoscan"},
			Address: researcherAddress,
		},
	}
}

// PlatformWalletAddress 是演示平台自己的收款钱包，路由兜底的执行者
// 用它收款，保证未注册任何执行者时演示流程也能完整付款。
const PlatformWalletAddress = "0xEE8b59794Ee3A6aeeCE9aa09a118bB6ba1029e3c"

// FallbackAgents 返回路由兜底用的执行者。与 DemoAgents 不同，
// 它们技能更全且始终指向平台钱包，保证可收款。
func FallbackAgents() []*Agent {
	return []*Agent{
		{
			ID:      "agent:worker:translator",
			Name:    "Polyglot Worker",
			Skills:  []string{"translate", "summarize", "writing"},
			Address: PlatformWalletAddress,
		},
		{
			ID:      "agent:worker:research",
			Name:    "Onchain Researcher",
			Skills:  []string{"onchain-research", "celoscan", "data-analysis"},
			Address: PlatformWalletAddress,
		},
	}
}

// DemoTasks 返回演示环境的两个种子任务，用于首次启动时填充列表。
func DemoTasks() []*Task {
	return []*Task{
		{
			ID:    fmt.Sprintf("task_seed_%s", uuid.NewString()),
			Title: "Translate: hackathon pitch to Portuguese",
			Description: "Translate this 45-second pitch into PT-BR and keep it punchy:\n\n" +
				"Skill Router is an agent-to-agent marketplace on Celo. Post a task → route to a verified specialist → " +
				"approve → pay on-chain. No invoices, no screenshots — just a transaction + receipts.",
			Skill:     "translate",
			BudgetUSD: "2",
			Status:    StatusOpen,
		},
		{
			ID:    fmt.Sprintf("task_seed_%s", uuid.NewString()),
			Title: "Onchain research: verify payout tx on Celoscan",
			Description: "Given a tx hash, summarize: (1) sender/receiver, (2) token + amount, (3) success/failure, " +
				"(4) link to the explorer page.\n\nThis is the proof-of-payment step for the judges.",
			Skill:     "onchain-research",
			BudgetUSD: "1",
			Status:    StatusOpen,
		},
	}
}
