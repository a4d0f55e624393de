package settlement

// Mode 表示一次审批最终走哪条结算路径。
type Mode string

const (
	// ModeFinalize 调用方自付并提交交易哈希，路由方只做链上核验。
	ModeFinalize Mode = "finalize"
	// ModeCustodial 路由方持有付款私钥，直接代付。
	ModeCustodial Mode = "custodial"
	// ModeTerms 开放模式，返回 402 支付条款等待调用方付款后重试。
	ModeTerms Mode = "terms"
)

// DecideMode 按固定优先级决定结算模式: 调用方提交的交易哈希永远优先于
// 托管私钥(执行者可以选择自付，仅让路由方确认)；无私钥且无哈希时返回
// 支付条款。该函数是纯函数，不做任何 I/O。
func DecideMode(hasTxHash, hasOperatorKey bool) Mode {
	switch {
	case hasTxHash:
		return ModeFinalize
	case hasOperatorKey:
		return ModeCustodial
	default:
		return ModeTerms
	}
}
