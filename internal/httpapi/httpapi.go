// Package httpapi is the thin HTTP adapter over C1-C5: gin-gonic/gin +
// gin-contrib/cors, routes matching spec.md §6's table one-to-one.
// Handlers hold only the narrow interfaces they need — store.TaskStore,
// coordination.Coordinator, subprocess.Runner, the scheduler, the progress
// tracker, and an auth service — never a concrete struct from another
// package, the way the teacher's APIHandler depends on interfaces injected
// through functional options (WithAPIObservability, WithMemoryEngine, ...).
package httpapi

import (
	"context"
	"time"

	"github.com/yunfie-twitter/ytdlp-api/internal/config"
	"github.com/yunfie-twitter/ytdlp-api/internal/coordination"
	"github.com/yunfie-twitter/ytdlp-api/internal/logging"
	"github.com/yunfie-twitter/ytdlp-api/internal/model"
	"github.com/yunfie-twitter/ytdlp-api/internal/progress"
	"github.com/yunfie-twitter/ytdlp-api/internal/store"
	"github.com/yunfie-twitter/ytdlp-api/internal/subprocess"
)

// AuthService is the slice of auth.Manager the HTTP layer depends on:
// verification for middleware plus the two write operations behind
// POST /api/auth/*.
type AuthService interface {
	Verify(ctx context.Context, bearerToken string) (model.APIKeyRecord, error)
	IssueKey(ctx context.Context, password, subject, description string) (string, model.APIKeyRecord, error)
	RevokeKey(ctx context.Context, bearerToken string) error
}

// CancelScheduler is the narrow scheduler contract POST /api/cancel/{id}
// depends on.
type CancelScheduler interface {
	Cancel(ctx context.Context, taskID string) (model.Task, error)
	ActiveCount() int
}

// ProgressReader is the narrow progress contract GET /api/progress/tasks/{id}
// depends on; *progress.Tracker satisfies it.
type ProgressReader interface {
	Subscribe(ctx context.Context, taskID string) <-chan model.ProgressSnapshot
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(logger) }
}

// WithReadyTimeout overrides the default 2s readiness-probe deadline.
func WithReadyTimeout(d time.Duration) Option {
	return func(s *Server) { s.readyTimeout = d }
}

// Server holds every dependency a handler or middleware needs and builds
// the gin.Engine that serves spec.md §6's routes.
type Server struct {
	tasks     store.TaskStore
	queue     coordination.Coordinator
	runner    subprocess.Runner
	formats   *subprocess.FormatsTable
	scheduler CancelScheduler
	progress  ProgressReaderFull
	auth      AuthService
	cfg       config.Config
	logger    logging.Logger

	readyTimeout       time.Duration
	defaultMaxAttempts int
}

// WithDefaultMaxAttempts overrides the retry budget POST /api/download
// seeds new jobs with, mirroring scheduler.Config.DefaultMaxAttempts.
func WithDefaultMaxAttempts(n int) Option {
	return func(s *Server) { s.defaultMaxAttempts = n }
}

// ProgressReaderFull is the full progress-tracker contract the rich
// progress endpoint depends on; kept distinct from ProgressReader so a
// future streaming-only caller can depend on the narrower one.
type ProgressReaderFull interface {
	ProgressReader
}

// NewServer wires dependencies into a Server. formats/runner back the
// probe and subtitle endpoints; tasks/queue back everything else.
func NewServer(
	tasks store.TaskStore,
	queue coordination.Coordinator,
	runner subprocess.Runner,
	formats *subprocess.FormatsTable,
	sched CancelScheduler,
	tracker *progress.Tracker,
	authSvc AuthService,
	cfg config.Config,
	opts ...Option,
) *Server {
	s := &Server{
		tasks:              tasks,
		queue:              queue,
		runner:             runner,
		formats:            formats,
		scheduler:          sched,
		auth:               authSvc,
		cfg:                cfg,
		logger:             logging.NewComponentLogger("httpapi"),
		readyTimeout:       2 * time.Second,
		defaultMaxAttempts: 3,
	}
	// A typed-nil *progress.Tracker assigned straight into the
	// ProgressReaderFull interface field would compare != nil and panic on
	// first use; only store it when the caller actually has a tracker.
	if tracker != nil {
		s.progress = tracker
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
