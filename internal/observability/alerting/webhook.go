package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPWebhookSender 把消息以 {"text": ...} 的 JSON 载荷 POST 到目标地址，
// 兼容 Slack/飞书一类的 incoming webhook。
type HTTPWebhookSender struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// Send 实现 WebhookSender 接口。
func (s *HTTPWebhookSender) Send(ctx context.Context, content string) error {
	if s == nil || s.URL == "" {
		return errors.New("webhook 地址未配置")
	}

	body, err := json.Marshal(map[string]string{"text": content})
	if err != nil {
		return fmt.Errorf("编码 webhook 消息失败: %w", err)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造 webhook 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 webhook 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook 返回异常状态码 %d", resp.StatusCode)
	}
	return nil
}

var _ WebhookSender = (*HTTPWebhookSender)(nil)
