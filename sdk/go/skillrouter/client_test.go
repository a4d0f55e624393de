package skillrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestApproveParsesPaymentTerms(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tasks/task_1/approve" {
			t.Fatalf("路径不符: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": false, "paymentRequired": true, "status": 402,
			"chainId": 11142220, "token": "0xdE9e4C3ce781b4bA68120d6261cbad65ce0aB00b",
			"tokenSymbol": "USDm", "tokenDecimals": 18,
			"recipient": "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
			"amount":    "2000000000000000000", "amountHuman": "2",
			"memo": "task:task_1", "howTo": "pay and retry",
		})
	}))
	defer ts.Close()

	client, err := NewClient(ts.URL, nil)
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}

	result, err := client.Approve(context.Background(), "task_1", "")
	if err != nil {
		t.Fatalf("402 不应作为错误返回: %v", err)
	}
	if !result.PaymentRequired() {
		t.Fatalf("应识别为待付款: %+v", result)
	}
	if result.Terms.ChainID != 11142220 || result.Terms.AmountHuman != "2" {
		t.Fatalf("条款解析不符: %+v", result.Terms)
	}
}

func TestApproveParsesSettledTask(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"task": map[string]any{
				"id": "task_1", "status": "APPROVED",
				"payoutTxHash": "0xabc",
			},
			"payoutTxHash": "0xabc",
		})
	}))
	defer ts.Close()

	client, _ := NewClient(ts.URL, nil)
	result, err := client.Approve(context.Background(), "task_1", "")
	if err != nil {
		t.Fatalf("审批失败: %v", err)
	}
	if result.PaymentRequired() {
		t.Fatalf("已结算结果不应要求付款")
	}
	if result.Task == nil || result.Task.Status != "APPROVED" || result.PayoutTxHash != "0xabc" {
		t.Fatalf("结果解析不符: %+v", result)
	}
}

func TestErrorEnvelopeDecoding(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": false, "error": "Task already approved / payout already initiated.",
		})
	}))
	defer ts.Close()

	client, _ := NewClient(ts.URL, nil)
	_, err := client.Approve(context.Background(), "task_1", "")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("应返回 APIError, 实际 %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("状态码不符: %d", apiErr.StatusCode)
	}
	if apiErr.Message != "Task already approved / payout already initiated." {
		t.Fatalf("错误消息不符: %q", apiErr.Message)
	}
}

func TestClaimAndSubmitRoundTrip(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		task := map[string]any{"id": "task_1"}
		switch r.URL.Path {
		case "/tasks/task_1/claim":
			if payload["agentId"] != "agent:w" {
				t.Fatalf("claim 载荷不符: %v", payload)
			}
			task["status"] = "ROUTED"
		case "/tasks/task_1/submit":
			if payload["output"] != "done" {
				t.Fatalf("submit 载荷不符: %v", payload)
			}
			task["status"] = "SUBMITTED"
			task["submission"] = payload["output"]
		default:
			t.Fatalf("未知路径: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "task": task})
	}))
	defer ts.Close()

	client, _ := NewClient(ts.URL, nil)
	ctx := context.Background()

	task, err := client.Claim(ctx, "task_1", "agent:w")
	if err != nil || task.Status != "ROUTED" {
		t.Fatalf("claim 失败: %v %+v", err, task)
	}
	task, err = client.Submit(ctx, "task_1", "done")
	if err != nil || task.Status != "SUBMITTED" || task.Submission != "done" {
		t.Fatalf("submit 失败: %v %+v", err, task)
	}
}
