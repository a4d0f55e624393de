// Package alerting 定义对账与结算链路的告警事件模型和通知渠道。
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "SkillRouter/internal/errors"
	"SkillRouter/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSlack   Channel = "slack"
	ChannelWebhook Channel = "webhook"
)

// Event 描述一次需要告警的事件，通常由对账刷新反复失败触发。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	TaskID     string
	TxHash     string
	Attempts   int
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier 负责将事件发送到某一个渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 把事件投递给全部注册渠道。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 广播事件，汇总各渠道错误。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// WebhookSender 负责把文本消息推送到外部 webhook。
type WebhookSender interface {
	Send(ctx context.Context, content string) error
}

// WebhookNotifier 通过 webhook 发送告警，适合接入 Slack/飞书等聊天工具。
type WebhookNotifier struct {
	Sender WebhookSender
	Name   Channel
}

// Channel 返回配置的渠道名，未配置时视为 webhook。
func (n *WebhookNotifier) Channel() Channel {
	if n == nil || n.Name == "" {
		return ChannelWebhook
	}
	return n.Name
}

// Notify 发送告警消息。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("task_id", event.TaskID))
		return nil
	}
	payload := fmt.Sprintf("[%s] %s\n任务: %s\n交易: %s\n第 %d 次尝试\n%s",
		event.Severity, event.Code, event.TaskID, event.TxHash, event.Attempts, event.Message)
	if len(event.Metadata) > 0 {
		payload += "\n详情:"
		for k, v := range event.Metadata {
			payload += fmt.Sprintf("\n- %s: %s", k, v)
		}
	}
	return n.Sender.Send(ctx, payload)
}

// LogNotifier 把告警写入结构化日志，是默认兜底渠道。
type LogNotifier struct{}

// Channel 返回 slack 以外的日志渠道标识。
func (LogNotifier) Channel() Channel { return Channel("log") }

// Notify 输出告警日志。
func (LogNotifier) Notify(_ context.Context, event Event) error {
	logger.L().Warn("对账告警",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("task_id", event.TaskID),
		slog.String("tx", event.TxHash),
		slog.Int("attempts", event.Attempts),
		slog.String("message", event.Message),
	)
	return nil
}
