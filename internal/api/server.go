// Package api 暴露任务市场的 REST 接口。
package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	xerrors "SkillRouter/internal/errors"
	"SkillRouter/internal/ledger"
	"SkillRouter/internal/observability/metrics"
	"SkillRouter/internal/reconcile"
	"SkillRouter/internal/routing"
	"SkillRouter/internal/settlement"
	"SkillRouter/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Server 组合账本、路由引擎、结算器与对账器，对外提供 HTTP 接口。
type Server struct {
	addr      string
	store     ledger.Store
	engine    *routing.Engine
	settler   *settlement.Settler
	refresher *reconcile.Refresher
	seedFn    func(ctx context.Context) error
	log       *slog.Logger
}

// Option 配置 Server。
type Option func(*Server)

// WithSeeder 配置 POST /seed 的播种逻辑。
func WithSeeder(fn func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.seedFn = fn
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, store ledger.Store, engine *routing.Engine, settler *settlement.Settler, refresher *reconcile.Refresher, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		store:     store,
		engine:    engine,
		settler:   settler,
		refresher: refresher,
		log:       logger.Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler 返回完整的路由表，便于测试时直接挂到 httptest。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /agents/register", s.handleRegisterAgent)
	mux.HandleFunc("GET /agents", s.handleListAgents)
	mux.HandleFunc("POST /tasks", s.handleCreateTask)
	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /tasks/{id}/route-to-agent", s.handleRoute)
	mux.HandleFunc("POST /tasks/{id}/claim", s.handleClaim)
	mux.HandleFunc("POST /tasks/{id}/submit", s.handleSubmit)
	mux.HandleFunc("POST /tasks/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /tasks/{id}/refresh-payout", s.handleRefreshPayout)
	mux.HandleFunc("POST /seed", s.handleSeed)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return metrics.Middleware("api", mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.Info("API 服务启动", "addr", s.addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type registerAgentRequest struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Address string   `json:"address"`
	Skills  []string `json:"skills"`
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	detail := map[string]string{}
	if len(req.ID) < 3 {
		detail["id"] = "must be at least 3 characters"
	}
	if len(req.Name) < 2 {
		detail["name"] = "must be at least 2 characters"
	}
	if !common.IsHexAddress(req.Address) {
		detail["address"] = "must be a 0x-prefixed 20-byte hex address"
	}
	if len(req.Skills) == 0 {
		detail["skills"] = "at least one skill is required"
	}
	for _, skill := range req.Skills {
		if len(skill) < 2 {
			detail["skills"] = "each skill must be at least 2 characters"
			break
		}
	}
	if len(detail) > 0 {
		writeValidationError(w, detail)
		return
	}

	agent, err := s.store.UpsertAgent(r.Context(), &ledger.Agent{
		ID:      req.ID,
		Name:    req.Name,
		Address: req.Address,
		Skills:  req.Skills,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "agent": agent})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if agents == nil {
		agents = []*ledger.Agent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

type createTaskRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Skill        string `json:"skill"`
	BudgetUSD    string `json:"budgetUsd"`
	BuyerAddress string `json:"buyerAddress"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	detail := map[string]string{}
	if len(req.Title) < 3 {
		detail["title"] = "must be at least 3 characters"
	}
	if len(req.Description) < 3 {
		detail["description"] = "must be at least 3 characters"
	}
	if len(req.Skill) < 2 {
		detail["skill"] = "must be at least 2 characters"
	}
	if req.BudgetUSD == "" {
		detail["budgetUsd"] = "is required"
	}
	if req.BuyerAddress != "" && !common.IsHexAddress(req.BuyerAddress) {
		detail["buyerAddress"] = "must be a 0x-prefixed 20-byte hex address"
	}
	if len(detail) > 0 {
		writeValidationError(w, detail)
		return
	}

	task := &ledger.Task{
		ID:           fmt.Sprintf("task_%s", uuid.NewString()),
		Title:        req.Title,
		Description:  req.Description,
		Skill:        req.Skill,
		BudgetUSD:    req.BudgetUSD,
		Status:       ledger.StatusOpen,
		BuyerAddress: req.BuyerAddress,
	}
	if err := s.store.CreateTask(r.Context(), task); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "task": task})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if tasks == nil {
		tasks = []*ledger.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	var worker *ledger.Agent
	if task.WorkerAgentID != "" {
		worker, _ = s.store.GetAgent(r.Context(), task.WorkerAgentID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "task": task, "worker": worker})
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	task, agent, err := s.engine.Route(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "task": task, "routedTo": agent})
}

type claimRequest struct {
	AgentID string `json:"agentId"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if len(req.AgentID) < 3 {
		writeValidationError(w, map[string]string{"agentId": "must be at least 3 characters"})
		return
	}

	task, agent, err := s.engine.Claim(r.Context(), r.PathValue("id"), req.AgentID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "task": task, "claimedBy": agent})
}

type submitRequest struct {
	Output string `json:"output"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Output) == "" {
		writeValidationError(w, map[string]string{"output": "is required"})
		return
	}

	task, err := s.settler.Submit(r.Context(), r.PathValue("id"), req.Output)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "task": task})
}

type approveRequest struct {
	PayoutTxHash string `json:"payoutTxHash"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	// 审批可以不带请求体
	var req approveRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.PayoutTxHash != "" && !isTxHash(req.PayoutTxHash) {
		writeValidationError(w, map[string]string{"payoutTxHash": "must be a 0x-prefixed 32-byte hex hash"})
		return
	}

	outcome, err := s.settler.Approve(r.Context(), r.PathValue("id"), req.PayoutTxHash)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	if outcome.Kind == settlement.OutcomeTerms {
		body := map[string]any{
			"ok":              false,
			"paymentRequired": true,
			"status":          http.StatusPaymentRequired,
			"chainId":         outcome.Terms.ChainID,
			"token":           outcome.Terms.Token,
			"tokenSymbol":     outcome.Terms.TokenSymbol,
			"tokenDecimals":   outcome.Terms.TokenDecimals,
			"recipient":       outcome.Terms.Recipient,
			"amount":          outcome.Terms.Amount,
			"amountHuman":     outcome.Terms.AmountHuman,
			"memo":            outcome.Terms.Memo,
			"howTo":           outcome.Terms.HowTo,
		}
		writeJSON(w, http.StatusPaymentRequired, body)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"task":         outcome.Task,
		"payoutTxHash": outcome.PayoutTxHash,
	})
}

func (s *Server) handleRefreshPayout(w http.ResponseWriter, r *http.Request) {
	task, receiptFound, err := s.refresher.Refresh(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"task":         task,
		"receiptFound": receiptFound,
	})
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	if s.seedFn != nil {
		if err := s.seedFn(r.Context()); err != nil {
			s.writeFailure(w, err)
			return
		}
	}
	tasks, err := s.store.ListTasks(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tasks": len(tasks)})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// writeFailure 把统一错误类型映射为 HTTP 状态码。
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case ledger.CodeTaskNotFound, ledger.CodeAgentNotFound, xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict, ledger.CodeTaskConflict:
		status = http.StatusConflict
	case xerrors.CodeInvalidArgument, xerrors.CodePreconditionFailed, xerrors.CodeVerificationFailed:
		status = http.StatusBadRequest
	}

	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	if status >= 500 {
		s.log.Error("请求处理失败", "error", err)
	}
	writeError(w, status, message)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": message})
}

func writeValidationError(w http.ResponseWriter, detail map[string]string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": detail})
}

func isTxHash(raw string) bool {
	if !strings.HasPrefix(raw, "0x") || len(raw) != 66 {
		return false
	}
	for _, c := range raw[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
