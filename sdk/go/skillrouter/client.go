// Package skillrouter provides a small HTTP client for the Skill Router
// marketplace API, including first-class handling of the 402 payment-terms
// response in open settlement mode.
package skillrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Approve can block for the on-chain confirmation wait,
// so it is longer than a typical REST timeout.
const DefaultHTTPTimeout = 45 * time.Second

// Client wraps the HTTP interactions with the Skill Router REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Agent mirrors the marketplace agent record.
type Agent struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Skills  []string `json:"skills"`
	Address string   `json:"address"`
}

// Task mirrors the marketplace task record, payout fields included.
type Task struct {
	ID                      string `json:"id"`
	Title                   string `json:"title"`
	Description             string `json:"description"`
	Skill                   string `json:"skill"`
	BudgetUSD               string `json:"budgetUsd"`
	Status                  string `json:"status"`
	BuyerAddress            string `json:"buyerAddress,omitempty"`
	WorkerAgentID           string `json:"workerAgentId,omitempty"`
	Submission              string `json:"submission,omitempty"`
	PayoutTxHash            string `json:"payoutTxHash,omitempty"`
	PayoutReceiptFound      bool   `json:"payoutReceiptFound,omitempty"`
	PayoutConfirmation      string `json:"payoutConfirmation,omitempty"`
	PayoutFromAddress       string `json:"payoutFromAddress,omitempty"`
	PayoutFromBalanceBefore string `json:"payoutFromBalanceBefore,omitempty"`
	PayoutFromBalanceAfter  string `json:"payoutFromBalanceAfter,omitempty"`
	PayoutToBalanceBefore   string `json:"payoutToBalanceBefore,omitempty"`
	PayoutToBalanceAfter    string `json:"payoutToBalanceAfter,omitempty"`
	CreatedAt               int64  `json:"createdAt"`
}

// PaymentTerms carries the settlement instructions returned with HTTP 402.
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

// ApproveResult is the union of the approve outcomes: either the task was
// settled (Task set) or payment is required (Terms set).
type ApproveResult struct {
	Task         *Task
	PayoutTxHash string
	Terms        *PaymentTerms
}

// PaymentRequired reports whether the caller must pay and retry.
func (r *ApproveResult) PaymentRequired() bool {
	return r != nil && r.Terms != nil
}

// APIError represents server side validation or domain errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("skillrouter api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the Skill Router API. When httpClient
// is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// RegisterAgent registers or overwrites a worker agent.
func (c *Client) RegisterAgent(ctx context.Context, agent Agent) (*Agent, error) {
	var out struct {
		Agent *Agent `json:"agent"`
	}
	if err := c.post(ctx, "/agents/register", agent, &out); err != nil {
		return nil, err
	}
	return out.Agent, nil
}

// ListAgents returns all registered agents in registration order.
func (c *Client) ListAgents(ctx context.Context) ([]*Agent, error) {
	var out struct {
		Agents []*Agent `json:"agents"`
	}
	if err := c.get(ctx, "/agents", &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// CreateTaskRequest is the payload for CreateTask.
type CreateTaskRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Skill        string `json:"skill"`
	BudgetUSD    string `json:"budgetUsd"`
	BuyerAddress string `json:"buyerAddress,omitempty"`
}

// CreateTask posts a new OPEN task.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (*Task, error) {
	var out struct {
		Task *Task `json:"task"`
	}
	if err := c.post(ctx, "/tasks", req, &out); err != nil {
		return nil, err
	}
	return out.Task, nil
}

// ListTasks returns all tasks, newest first.
func (c *Client) ListTasks(ctx context.Context) ([]*Task, error) {
	var out struct {
		Tasks []*Task `json:"tasks"`
	}
	if err := c.get(ctx, "/tasks", &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// GetTask fetches a single task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var out struct {
		Task *Task `json:"task"`
	}
	if err := c.get(ctx, "/tasks/"+url.PathEscape(taskID), &out); err != nil {
		return nil, err
	}
	return out.Task, nil
}

// Route asks the marketplace to pick a worker for the task.
func (c *Client) Route(ctx context.Context, taskID string) (*Task, *Agent, error) {
	var out struct {
		Task     *Task  `json:"task"`
		RoutedTo *Agent `json:"routedTo"`
	}
	if err := c.post(ctx, "/tasks/"+url.PathEscape(taskID)+"/route-to-agent", struct{}{}, &out); err != nil {
		return nil, nil, err
	}
	return out.Task, out.RoutedTo, nil
}

// Claim lets a worker agent accept an OPEN task.
func (c *Client) Claim(ctx context.Context, taskID, agentID string) (*Task, error) {
	var out struct {
		Task *Task `json:"task"`
	}
	payload := map[string]string{"agentId": agentID}
	if err := c.post(ctx, "/tasks/"+url.PathEscape(taskID)+"/claim", payload, &out); err != nil {
		return nil, err
	}
	return out.Task, nil
}

// Submit records the worker's deliverable.
func (c *Client) Submit(ctx context.Context, taskID, output string) (*Task, error) {
	var out struct {
		Task *Task `json:"task"`
	}
	payload := map[string]string{"output": output}
	if err := c.post(ctx, "/tasks/"+url.PathEscape(taskID)+"/submit", payload, &out); err != nil {
		return nil, err
	}
	return out.Task, nil
}

// Approve triggers settlement. Pass an empty payoutTxHash for custodial or
// open mode; pass the transaction hash of a self-made payment to finalize it.
// A 402 response is not an error: the result carries the payment terms.
func (c *Client) Approve(ctx context.Context, taskID, payoutTxHash string) (*ApproveResult, error) {
	payload := map[string]string{}
	if payoutTxHash != "" {
		payload["payoutTxHash"] = payoutTxHash
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/tasks/"+url.PathEscape(taskID)+"/approve", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired {
		var terms PaymentTerms
		if err := json.NewDecoder(resp.Body).Decode(&terms); err != nil {
			return nil, fmt.Errorf("decode payment terms: %w", err)
		}
		return &ApproveResult{Terms: &terms}, nil
	}
	if resp.StatusCode >= 400 {
		return nil, decodeAPIError(resp)
	}

	var out struct {
		Task         *Task  `json:"task"`
		PayoutTxHash string `json:"payoutTxHash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &ApproveResult{Task: out.Task, PayoutTxHash: out.PayoutTxHash}, nil
}

// RefreshPayout re-reads receipt status and balances for a settled task.
func (c *Client) RefreshPayout(ctx context.Context, taskID string) (*Task, bool, error) {
	var out struct {
		Task         *Task `json:"task"`
		ReceiptFound bool  `json:"receiptFound"`
	}
	if err := c.post(ctx, "/tasks/"+url.PathEscape(taskID)+"/refresh-payout", struct{}{}, &out); err != nil {
		return nil, false, err
	}
	return out.Task, out.ReceiptFound, nil
}

// Seed populates the demo agents and tasks.
func (c *Client) Seed(ctx context.Context) error {
	return c.post(ctx, "/seed", struct{}{}, nil)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if len(data) > 0 && json.Unmarshal(data, &envelope) == nil && len(envelope.Error) > 0 {
		var message string
		if json.Unmarshal(envelope.Error, &message) == nil {
			apiErr.Message = message
		} else {
			apiErr.Message = string(envelope.Error)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return apiErr
}
