package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/McKrispy/Ageeeent/internal/agent"
	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/observability/metrics"
	"github.com/McKrispy/Ageeeent/internal/planning"
	"github.com/McKrispy/Ageeeent/internal/task"
	"github.com/McKrispy/Ageeeent/pkg/logger"
)

const maxRequestBody = 1 << 20

// SessionService 是 API 依赖的会话队列能力。
type SessionService interface {
	Submit(ctx context.Context, req task.SubmitRequest) (*task.Session, error)
	Get(ctx context.Context, id string) (*task.Session, error)
	List(ctx context.Context, opts ...task.ListOption) ([]*task.Session, error)
	Stats(ctx context.Context, opts ...task.ListOption) (task.Stats, error)
	Cancel(ctx context.Context, id, reason string) error
}

// Observer 提供运行中会话的快照与停止能力。
type Observer interface {
	Snapshot(ctx context.Context, id string) (agent.Snapshot, bool)
	Stop(id string) bool
}

// QuestionnaireDesigner 在提交目标前生成澄清问卷。
type QuestionnaireDesigner interface {
	Questionnaire(ctx context.Context, goal string) (planning.Questionnaire, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr     string
	sessions SessionService
	observer Observer
	designer QuestionnaireDesigner
	logger   *slog.Logger
}

// ServerOption 定义可选配置。
type ServerOption func(*Server)

// WithQuestionnaire 启用需求澄清问卷接口。
func WithQuestionnaire(designer QuestionnaireDesigner) ServerOption {
	return func(s *Server) {
		s.designer = designer
	}
}

// NewServer 构造 API 服务实例。observer 可以为 nil，此时快照与停止只依赖队列状态。
func NewServer(addr string, sessions SessionService, observer Observer, opts ...ServerOption) *Server {
	s := &Server{addr: addr, sessions: sessions, observer: observer, logger: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/sessions", "sessions.create", s.handleCreate)
	s.route(mux, "GET /api/v1/sessions", "sessions.list", s.handleList)
	s.route(mux, "GET /api/v1/sessions/stats", "sessions.stats", s.handleStats)
	s.route(mux, "GET /api/v1/sessions/{id}", "sessions.get", s.handleGet)
	s.route(mux, "GET /api/v1/sessions/{id}/snapshot", "sessions.snapshot", s.handleSnapshot)
	s.route(mux, "POST /api/v1/sessions/{id}/stop", "sessions.stop", s.handleStop)
	s.route(mux, "POST /api/v1/questionnaire", "questionnaire.create", s.handleQuestionnaire)
	s.route(mux, "GET /healthz", "healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
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
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

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

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.Handle(pattern, instrument(name, h))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req task.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	sess, err := s.sessions.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

func (s *Server) handleQuestionnaire(w http.ResponseWriter, r *http.Request) {
	if s.designer == nil {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "未启用需求澄清"))
		return
	}
	var req struct {
		Goal string `json:"goal"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	questionnaire, err := s.designer.Questionnaire(r.Context(), req.Goal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, questionnaire)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context(), listOptions(r)...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sessions.Stats(r.Context(), listOptions(r)...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.observer != nil {
		if snap, ok := s.observer.Snapshot(r.Context(), id); ok {
			if snap.Archived && snap.Goal == "" {
				if sess, err := s.sessions.Get(r.Context(), id); err == nil {
					snap.Goal = sess.Goal
				}
			}
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}
	// 会话存在但没有快照，说明还在排队或运行在其他实例上。
	if _, err := s.sessions.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeError(w, xerrors.New(xerrors.CodeNotFound, "会话暂无快照"))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.observer != nil && s.observer.Stop(id) {
		s.logger.Info("已请求停止会话", slog.String("session_id", id))
		writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "stopping": true})
		return
	}
	if err := s.sessions.Cancel(r.Context(), id, "stopped via api"); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": task.StatusCancelled})
}

func listOptions(r *http.Request) []task.ListOption {
	q := r.URL.Query()
	var opts []task.ListOption
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, task.WithLimit(n))
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, task.WithOffset(n))
		}
	}
	if raw := q.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, task.Status(strings.TrimSpace(part)))
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := q.Get("q"); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}
	if q.Get("order") == "asc" {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	return opts
}

type errorBody struct {
	Error string       `json:"error"`
	Code  xerrors.Code `json:"code"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeInvalidArgument, task.CodeSessionValidation:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeSessionNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict, task.CodeSessionConflict, task.CodeSessionCompleted:
		status = http.StatusConflict
	case xerrors.CodeInitializationFailure, planning.CodePlanningUnavailable:
		status = http.StatusServiceUnavailable
	}
	msg := err.Error()
	if e, ok := xerrors.From(err); ok {
		msg = e.Message()
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 记录每个路由的请求数与耗时。
func instrument(name string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
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
