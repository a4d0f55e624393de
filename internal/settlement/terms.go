package settlement

import (
	"fmt"
	"math/big"

	"SkillRouter/internal/ledger"
	"SkillRouter/internal/web3"
)

// PaymentTerms 是开放模式下随 402 返回的支付条款，字段命名与线上
// 接口保持一致。调用方按条款自行付款后携带交易哈希重试审批。
type PaymentTerms struct {
	PaymentRequired bool   `json:"paymentRequired"`
	ChainID         int64  `json:"chainId"`
	Token           string `json:"token"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimals   uint8  `json:"tokenDecimals"`
	Recipient       string `json:"recipient"`
	Amount          string `json:"amount"`
	AmountHuman     string `json:"amountHuman"`
	Memo            string `json:"memo"`
	HowTo           string `json:"howTo"`
}

// BuildPaymentTerms 根据任务、收款执行者与结算网络生成支付条款。
// Amount 为代币基本单位，AmountHuman 为整美元数。
func BuildPaymentTerms(task *ledger.Task, worker *ledger.Agent, network web3.Network, usd int64, units *big.Int) *PaymentTerms {
	return &PaymentTerms{
		PaymentRequired: true,
		ChainID:         network.ChainID,
		Token:           network.Token.Hex(),
		TokenSymbol:     network.TokenSymbol,
		TokenDecimals:   network.TokenDecimals,
		Recipient:       worker.Address,
		Amount:          units.String(),
		AmountHuman:     fmt.Sprintf("%d", usd),
		Memo:            fmt.Sprintf("task:%s", task.ID),
		HowTo:           "Pay the recipient this amount in USDm on Celo Sepolia, then POST again to /approve with { payoutTxHash }.",
	}
}
