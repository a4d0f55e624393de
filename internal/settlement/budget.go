// Package settlement 实现审批驱动的支付结算协议: 托管直付、402 支付条款
// 与链上回执核验三种模式。
package settlement

import (
	"math/big"
	"strconv"
	"strings"
)

const (
	// 预算上下限，单位为整美元。上限用于保护演示付款方不被误触发大额转账。
	minBudgetUSD = 1
	maxBudgetUSD = 1000
)

var tokenUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ResolveBudget 把任务的预算字符串解析为整美元数与代币基本单位数。
// 无法解析或小于 1 时取 1，超过 1000 时取 1000；换算假定代币固定 18 位小数。
func ResolveBudget(budgetUSD string) (usd int64, units *big.Int) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(budgetUSD), 10, 64)
	if err != nil || parsed < minBudgetUSD {
		parsed = minBudgetUSD
	}
	if parsed > maxBudgetUSD {
		parsed = maxBudgetUSD
	}
	return parsed, new(big.Int).Mul(big.NewInt(parsed), tokenUnit)
}
