package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ghabxph/starship/internal/config"
	"github.com/ghabxph/starship/internal/dispatch"
	"github.com/ghabxph/starship/internal/metrics"
	"github.com/ghabxph/starship/internal/oauth"
	"github.com/ghabxph/starship/internal/repository"
	"github.com/ghabxph/starship/internal/version"
	"github.com/ghabxph/starship/internal/webhook"
)

// Dispatcher maps a classified payload to a response and deferred work
type Dispatcher interface {
	Dispatch(p webhook.Payload) dispatch.Result
}

// Scheduler starts deferred work
type Scheduler interface {
	Go(name string, task dispatch.Task)
}

// OAuthFlow is the Jira connection flow
type OAuthFlow interface {
	AuthURL(teamID string) (string, error)
	Complete(ctx context.Context, code, state string) (*repository.Workspace, *oauth.Resource, error)
}

type HealthChecker interface {
	Health() error
}

type Identity interface {
	BotUserID(ctx context.Context) (string, error)
}

type Cleaner interface {
	CleanupExpiredEntries(idle time.Duration) int
}

// StatsReporter contributes counters to the health response
type StatsReporter interface {
	GetStats() map[string]interface{}
}

// Deps are the collaborators of the HTTP service. Health, Identity,
// Cleaner and Stats are optional.
type Deps struct {
	Dispatcher Dispatcher
	Runner     Scheduler
	Verifier   *webhook.Verifier
	OAuth      OAuthFlow
	Metrics    *metrics.Metrics
	Health     HealthChecker
	Identity   Identity
	Cleaner    Cleaner
	Stats      StatsReporter
}

// Service is the HTTP transport: Slack webhooks, the Jira OAuth
// endpoints and operational routes.
type Service struct {
	Deps
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	startTime  time.Time

	mu        sync.RWMutex
	botUserID string
}

// NewService creates a new HTTP service
func NewService(cfg *config.Config, deps Deps, logger *zap.Logger) *Service {
	return &Service{
		Deps:      deps,
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Start serves HTTP until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	if s.Identity != nil {
		botUserID, err := s.Identity.BotUserID(ctx)
		if err != nil {
			return fmt.Errorf("failed to authenticate with Slack: %w", err)
		}
		s.mu.Lock()
		s.botUserID = botUserID
		s.mu.Unlock()
		s.logger.Info("Bot authenticated", zap.String("bot_user_id", botUserID))
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.ServerHost, s.config.ServerPort),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.Cleaner != nil {
		go s.periodicCleanup(ctx)
	}

	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.httpServer.Addr),
		zap.String("health_path", s.config.HealthCheckPath))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	}
}

// Handler builds the router
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Method checks happen inside the pipeline so every path answers 405 the same way
	r.HandleFunc("/slack/events", s.handleSlack)
	r.HandleFunc("/slack/commands", s.handleSlack)
	r.HandleFunc("/slack/interactivity", s.handleSlack)

	r.Get("/jira/auth", s.handleJiraAuth)
	r.Get("/jira/callback", s.handleJiraCallback)
	r.Get("/auth-result", s.handleAuthResult)

	r.Get(s.config.HealthCheckPath, s.handleHealth)
	r.Get("/version", s.handleVersion)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	}
	return r
}

func (s *Service) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// No bodies: they carry user messages and tokens
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// handleSlack runs the webhook pipeline: read, verify, classify, dispatch,
// respond, then start deferred work.
func (s *Service) handleSlack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	req, err := webhook.ReadRequest(r, s.config.MaxBodyBytes)
	if err != nil {
		if errors.Is(err, webhook.ErrBodyTooLarge) {
			s.reject("body_too_large")
			s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		s.logger.Error("Failed to read request body", zap.Error(err))
		s.reject("read_error")
		s.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	verified := s.Verifier.VerifyRequest(req)
	if !verified.Verification.OK {
		s.logger.Warn("Rejected Slack request",
			zap.String("path", r.URL.Path),
			zap.String("reason", verified.Verification.Reason))
		s.reject("signature")
		s.respondError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	// Slack retries when the first ack was late; the original delivery owns the work
	if retry := r.Header.Get(webhook.HeaderRetryNum); retry != "" {
		s.logger.Info("Acknowledging Slack retry",
			zap.String("retry_num", retry),
			zap.String("reason", r.Header.Get("X-Slack-Retry-Reason")))
		w.WriteHeader(http.StatusOK)
		return
	}

	result, ok := s.dispatch(webhook.Classify(verified.Body))
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeResponse(w, result.Response)
	s.Runner.Go(result.TaskName, result.Task)
}

func (s *Service) dispatch(p webhook.Payload) (result dispatch.Result, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("Dispatch panicked",
				zap.String("kind", string(p.Kind())),
				zap.String("panic", fmt.Sprint(rec)))
			ok = false
		}
	}()
	return s.Dispatcher.Dispatch(p), true
}

func writeResponse(w http.ResponseWriter, resp dispatch.Response) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Service) reject(reason string) {
	if s.Metrics != nil {
		s.Metrics.RequestRejected(reason)
	}
}

// handleJiraAuth redirects to the Atlassian consent page
func (s *Service) handleJiraAuth(w http.ResponseWriter, r *http.Request) {
	teamID := r.URL.Query().Get("team_id")
	if teamID == "" {
		s.respondError(w, http.StatusBadRequest, "team_id is required")
		return
	}
	authURL, err := s.OAuth.AuthURL(teamID)
	if err != nil {
		s.logger.Error("Failed to build authorization URL", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to start authorization")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleJiraCallback finishes the OAuth flow and redirects to the result page
func (s *Service) handleJiraCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if denied := q.Get("error"); denied != "" {
		s.logger.Warn("Jira authorization denied",
			zap.String("error", denied),
			zap.String("description", q.Get("error_description")))
		s.redirectResult(w, r, url.Values{"error": {denied}})
		return
	}

	ws, site, err := s.OAuth.Complete(r.Context(), q.Get("code"), q.Get("state"))
	if err != nil {
		s.logger.Error("Jira authorization failed", zap.Error(err))
		s.redirectResult(w, r, url.Values{"error": {err.Error()}})
		return
	}

	resource := site.Name
	if resource == "" {
		resource = site.URL
	}
	s.logger.Info("Jira authorization complete",
		zap.String("team_id", ws.TeamID),
		zap.String("resource", resource))
	s.redirectResult(w, r, url.Values{"success": {"true"}, "resource": {resource}})
}

func (s *Service) redirectResult(w http.ResponseWriter, r *http.Request, params url.Values) {
	target, err := url.Parse(s.config.AuthResultURL)
	if err != nil {
		target = &url.URL{Path: "/auth-result"}
	}
	q := target.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *Service) handleAuthResult(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if q.Get("success") == "true" {
		fmt.Fprintf(w, "Jira connected: %s\nYou can close this window and return to Slack.\n", q.Get("resource"))
		return
	}
	w.WriteHeader(http.StatusBadRequest)
	msg := q.Get("error")
	if msg == "" {
		msg = "unknown error"
	}
	fmt.Fprintf(w, "Jira connection failed: %s\nReturn to Slack and try again.\n", msg)
}

// handleHealth handles health check requests
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	botUserID := s.botUserID
	s.mu.RUnlock()

	health := map[string]interface{}{
		"status":      "healthy",
		"uptime":      time.Since(s.startTime).String(),
		"bot_user_id": botUserID,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if s.Health != nil {
		if err := s.Health.Health(); err != nil {
			health["status"] = "unhealthy"
			health["store_error"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if s.Stats != nil {
		health["authorization"] = s.Stats.GetStats()
	}
	s.respondJSON(w, status, health)
}

// handleVersion handles version requests
func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	info := version.GetVersionInfo()
	info["uptime"] = time.Since(s.startTime).String()
	s.respondJSON(w, http.StatusOK, info)
}

func (s *Service) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Service) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// periodicCleanup performs periodic cleanup tasks
func (s *Service) periodicCleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := s.Cleaner.CleanupExpiredEntries(time.Hour)
			s.logger.Debug("Performed periodic cleanup", zap.Int("removed", removed))
		case <-ctx.Done():
			return
		}
	}
}
