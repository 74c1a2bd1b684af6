package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	xerrors "Orchestra-Engine/internal/errors"
	"Orchestra-Engine/internal/history"
	"Orchestra-Engine/internal/observability/metrics"
	"Orchestra-Engine/internal/orchestration"
	"Orchestra-Engine/internal/plan"
)

// maxDocumentBytes 限制提交文档的大小。
const maxDocumentBytes = 4 << 20

// Engine 是 API 依赖的引擎能力。
type Engine interface {
	Submit(ctx context.Context, orch orchestration.Orchestration, opts ...orchestration.SubmitOption) (orchestration.OrchestrationResult, error)
	History() *orchestration.HistoryLedger
}

// Option 定义可选配置。
type Option func(*Server)

// WithMetrics 挂载 /metrics 并为每个路由记录请求指标。
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithArchive 允许通过 source=archive 查询归档历史。
func WithArchive(sink history.Sink) Option {
	return func(s *Server) { s.archive = sink }
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr    string
	engine  Engine
	builder *plan.Builder
	metrics *metrics.Collector
	archive history.Sink
	logger  *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, engine Engine, builder *plan.Builder, opts ...Option) *Server {
	s := &Server{addr: addr, engine: engine, builder: builder, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册好全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "/api/v1/orchestrations", "orchestrations", s.handleOrchestrations)
	s.route(mux, "/api/v1/history", "history", s.handleHistory)
	s.route(mux, "/api/v1/history/stats", "history_stats", s.handleStats)
	s.route(mux, "/healthz", "healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, fn http.HandlerFunc) {
	var h http.Handler = fn
	if s.metrics != nil {
		h = s.metrics.Middleware(name, h)
	}
	mux.Handle(pattern, h)
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
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

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

func (s *Server) handleOrchestrations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, ErrorBody{Code: string(xerrors.CodeInvalidArgument), Message: "仅支持 POST"})
		return
	}
	if s.engine == nil || s.builder == nil {
		writeError(w, http.StatusServiceUnavailable, ErrorBody{Code: string(xerrors.CodeInitializationFailure), Message: "引擎未初始化"})
		return
	}

	doc, err := plan.Decode(http.MaxBytesReader(w, r.Body, maxDocumentBytes), plan.FormatFromContentType(r.Header.Get("Content-Type")))
	if err != nil {
		writeFailure(w, err)
		return
	}
	orch, err := s.builder.Build(doc)
	if err != nil {
		writeFailure(w, err)
		return
	}
	var opts []orchestration.SubmitOption
	switch r.URL.Query().Get("admission") {
	case "":
	case "blocking":
		opts = append(opts, orchestration.WithNonBlockingAdmission(false))
	case "non_blocking":
		opts = append(opts, orchestration.WithNonBlockingAdmission(true))
	default:
		writeError(w, http.StatusBadRequest, ErrorBody{Code: string(xerrors.CodeInvalidArgument), Message: "admission 仅支持 blocking 或 non_blocking"})
		return
	}

	started := time.Now()
	result, err := s.engine.Submit(r.Context(), orch, opts...)
	resp := toSubmitResponse(result, time.Since(started))
	if err != nil {
		body := errorBody(err)
		resp.Error = &body
		s.logger.Warn("编排执行失败",
			slog.String("orchestration_id", result.ID),
			slog.String("code", body.Code),
			slog.Any("error", err))
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, ErrorBody{Code: string(xerrors.CodeInvalidArgument), Message: "仅支持 GET"})
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	if r.URL.Query().Get("source") == "archive" {
		if s.archive == nil {
			writeError(w, http.StatusNotFound, ErrorBody{Code: string(xerrors.CodeNotFound), Message: "未配置历史归档"})
			return
		}
		entries, err := s.archive.List(r.Context(), limit)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, HistoryResponse{Source: "archive", Entries: nonNil(entries)})
		return
	}
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, ErrorBody{Code: string(xerrors.CodeInitializationFailure), Message: "引擎未初始化"})
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Source: "ledger", Entries: nonNil(s.engine.History().Recent(limit))})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, ErrorBody{Code: string(xerrors.CodeInvalidArgument), Message: "仅支持 GET"})
		return
	}
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, ErrorBody{Code: string(xerrors.CodeInitializationFailure), Message: "引擎未初始化"})
		return
	}
	writeJSON(w, http.StatusOK, s.engine.History().Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor 将错误码映射为 HTTP 状态码。
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	switch xerrors.CodeOf(err) {
	case orchestration.CodeValidation, orchestration.CodeHandlerNotFound, orchestration.CodeComplexity, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case orchestration.CodeConcurrencyLimit:
		return http.StatusTooManyRequests
	case orchestration.CodeTimeout:
		return http.StatusGatewayTimeout
	case orchestration.CodeCancelled:
		return http.StatusServiceUnavailable
	case orchestration.CodeTaskExecution, orchestration.CodeRelationship, orchestration.CodeTranscendence, orchestration.CodeCircuitOpen:
		return http.StatusUnprocessableEntity
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) ErrorBody {
	body := ErrorBody{Code: string(xerrors.CodeOf(err)), Message: err.Error()}
	var taskErr *orchestration.TaskExecutionError
	if errors.As(err, &taskErr) {
		idx := taskErr.TaskIndex
		body.LevelID = taskErr.LevelID
		body.TaskIndex = &idx
		body.SubLevel = taskErr.SubLevel
	}
	return body
}

func writeFailure(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), errorBody(err))
}

func writeError(w http.ResponseWriter, status int, body ErrorBody) {
	writeJSON(w, status, errorEnvelope{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(entries []orchestration.HistoryEntry) []orchestration.HistoryEntry {
	if entries == nil {
		return []orchestration.HistoryEntry{}
	}
	return entries
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
