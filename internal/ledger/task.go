package ledger

import (
	xerrors "SkillRouter/internal/errors"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusRouted    Status = "ROUTED"
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
	// StatusRejected 在状态枚举中保留，但当前没有任何操作会产生它。
	StatusRejected Status = "REJECTED"
)

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusOpen, StatusRouted, StatusSubmitted, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// Task 描述市场中的一个任务。余额快照保持为十进制字符串，
// 避免 JSON 序列化 big.Int 带来的精度问题。
type Task struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Skill         string `json:"skill"`
	BudgetUSD     string `json:"budgetUsd"`
	Status        Status `json:"status"`
	BuyerAddress  string `json:"buyerAddress,omitempty"`
	WorkerAgentID string `json:"workerAgentId,omitempty"`
	EscrowAddress string `json:"escrowAddress,omitempty"`
	Submission    string `json:"submission,omitempty"`

	// 链上支付的可观测字段，全部为原始代币基本单位的十进制字符串。
	PayoutTxHash            string `json:"payoutTxHash,omitempty"`
	PayoutReceiptFound      bool   `json:"payoutReceiptFound,omitempty"`
	PayoutConfirmation      string `json:"payoutConfirmation,omitempty"`
	PayoutFromAddress       string `json:"payoutFromAddress,omitempty"`
	PayoutFromBalanceBefore string `json:"payoutFromBalanceBefore,omitempty"`
	PayoutFromBalanceAfter  string `json:"payoutFromBalanceAfter,omitempty"`
	PayoutToBalanceBefore   string `json:"payoutToBalanceBefore,omitempty"`
	PayoutToBalanceAfter    string `json:"payoutToBalanceAfter,omitempty"`

	CreatedAt int64 `json:"createdAt"`
}

// TaskPatch 描述对任务记录的浅合并更新，nil 字段保持不变。
type TaskPatch struct {
	Title                   *string
	Description             *string
	Status                  *Status
	WorkerAgentID           *string
	EscrowAddress           *string
	Submission              *string
	PayoutTxHash            *string
	PayoutReceiptFound      *bool
	PayoutConfirmation      *string
	PayoutFromAddress       *string
	PayoutFromBalanceBefore *string
	PayoutFromBalanceAfter  *string
	PayoutToBalanceBefore   *string
	PayoutToBalanceAfter    *string
}

func (p TaskPatch) apply(task *Task) {
	if p.Title != nil {
		task.Title = *p.Title
	}
	if p.Description != nil {
		task.Description = *p.Description
	}
	if p.Status != nil {
		task.Status = *p.Status
	}
	if p.WorkerAgentID != nil {
		task.WorkerAgentID = *p.WorkerAgentID
	}
	if p.EscrowAddress != nil {
		task.EscrowAddress = *p.EscrowAddress
	}
	if p.Submission != nil {
		task.Submission = *p.Submission
	}
	if p.PayoutTxHash != nil {
		task.PayoutTxHash = *p.PayoutTxHash
	}
	if p.PayoutReceiptFound != nil {
		task.PayoutReceiptFound = *p.PayoutReceiptFound
	}
	if p.PayoutConfirmation != nil {
		task.PayoutConfirmation = *p.PayoutConfirmation
	}
	if p.PayoutFromAddress != nil {
		task.PayoutFromAddress = *p.PayoutFromAddress
	}
	if p.PayoutFromBalanceBefore != nil {
		task.PayoutFromBalanceBefore = *p.PayoutFromBalanceBefore
	}
	if p.PayoutFromBalanceAfter != nil {
		task.PayoutFromBalanceAfter = *p.PayoutFromBalanceAfter
	}
	if p.PayoutToBalanceBefore != nil {
		task.PayoutToBalanceBefore = *p.PayoutToBalanceBefore
	}
	if p.PayoutToBalanceAfter != nil {
		task.PayoutToBalanceAfter = *p.PayoutToBalanceAfter
	}
}

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrAgentNotFound 表示指定的智能体未注册。
	ErrAgentNotFound = xerrors.New(CodeAgentNotFound, "agent not found")
	// ErrTaskConflict 表示任务 ID 已被占用。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task id already exists", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeTaskNotFound  xerrors.Code = "TASK_NOT_FOUND"
	CodeAgentNotFound xerrors.Code = "AGENT_NOT_FOUND"
	CodeTaskConflict  xerrors.Code = "TASK_CONFLICT"
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:   "task not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{
		Message:   "agent not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:   "task conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

func cloneTask(task *Task) *Task {
	clone := *task
	return &clone
}
