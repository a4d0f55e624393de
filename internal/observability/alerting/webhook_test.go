package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "SkillRouter/internal/errors"
)

func TestHTTPWebhookSenderPostsJSON(t *testing.T) {
	var got map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("应使用 POST, 实际 %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type 不符: %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sender := &HTTPWebhookSender{URL: ts.URL}
	notifier := &WebhookNotifier{Sender: sender}

	event := Event{
		Code:     xerrors.CodeTimeout,
		Message:  "确认超时",
		TaskID:   "task_hook",
		TxHash:   "0xabc",
		Attempts: 10,
	}
	if err := notifier.Notify(context.Background(), event); err != nil {
		t.Fatalf("发送告警失败: %v", err)
	}
	if !strings.Contains(got["text"], "task_hook") || !strings.Contains(got["text"], "0xabc") {
		t.Fatalf("消息缺少任务与交易信息: %q", got["text"])
	}
}

func TestHTTPWebhookSenderRejectsBadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	sender := &HTTPWebhookSender{URL: ts.URL}
	if err := sender.Send(context.Background(), "ping"); err == nil ||
		!strings.Contains(err.Error(), "502") {
		t.Fatalf("非 2xx 状态码应报错, 实际 %v", err)
	}
}
