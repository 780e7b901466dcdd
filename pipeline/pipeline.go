// Package pipeline implements the mirlist deployment pipeline: fetch the
// status feed, select the freshest alive mirrors per region, stage the
// artifact, and publish it to the hosting target.
//
// Every deployment run walks the same state machine (fetching, selecting,
// writing, uploading) and ends idle as success or failure. There is no
// retry inside a run; the next trigger is the retry mechanism. Cross-run concurrency is governed entirely by the
// Coordinator.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/mirlist/history"
	"github.com/hazyhaar/mirlist/idgen"
	"github.com/hazyhaar/mirlist/pipeline/internal/artifact"
	"github.com/hazyhaar/mirlist/pipeline/internal/oracle"
	"github.com/hazyhaar/mirlist/pipeline/internal/publish"
	"github.com/hazyhaar/mirlist/shield"
	"github.com/hazyhaar/mirlist/snapshot"
)

// Phase names the pipeline steps; Outcome.Phase is the last one entered.
type Phase string

const (
	PhaseFetching  Phase = "fetching"
	PhaseSelecting Phase = "selecting"
	PhaseWriting   Phase = "writing"
	PhaseUploading Phase = "uploading"
)

// Outcome is the terminal result of one deployment run.
type Outcome struct {
	RunID      string
	Trigger    Trigger
	Status     string // "success" | "failed"
	Phase      Phase
	Err        error
	ServedURL  string
	StartedAt  time.Time
	FinishedAt time.Time
	Regions    int // output files written
	Mirrors    int // records in the snapshot
	Selected   int // URLs published across all regions
}

// Fetcher retrieves one status feed snapshot.
type Fetcher interface {
	Fetch(ctx context.Context) (*snapshot.Snapshot, error)
}

// Target is re-exported so callers can inject a hosting target without
// importing the internal package.
type Target = publish.Target

// Service wires the pipeline steps together and owns the coordinator.
type Service struct {
	config *Config
	fetch  Fetcher
	writer *artifact.Writer
	target Target
	coord  *Coordinator
	store  *history.Store
	logger *slog.Logger
	newID  idgen.Generator

	limiter *shield.RateLimiter

	mu   sync.Mutex
	last *Outcome
}

// Option configures a Service.
type Option func(*Service)

// WithFetcher overrides the HTTP oracle client.
func WithFetcher(f Fetcher) Option {
	return func(s *Service) { s.fetch = f }
}

// WithTarget overrides the hosting target built from the config.
func WithTarget(t Target) Option {
	return func(s *Service) { s.target = t }
}

// WithHistory attaches a run history store. Without one, outcomes are
// only logged.
func WithHistory(store *history.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Service) { s.newID = gen }
}

// New creates a Service from cfg. The config is defaulted and validated
// here so hand-built test configs get the same treatment as loaded ones.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pipeline: nil config")
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		config: cfg,
		fetch: oracle.New(oracle.Config{
			URL:       cfg.Oracle.URL,
			Timeout:   cfg.Oracle.Timeout,
			MaxBytes:  cfg.Oracle.MaxBytes,
			UserAgent: cfg.Oracle.UserAgent,
		}),
		writer:  artifact.NewWriter(cfg.WorkDir),
		logger:  logger,
		newID:   idgen.Prefixed("run_", idgen.Default),
		limiter: shield.NewRateLimiter(shield.RateLimitConfig{}),
	}

	switch cfg.Publish.Type {
	case "dir":
		s.target = publish.NewDirTarget(publish.DirConfig{
			Root:         cfg.Publish.Root,
			KeepReleases: cfg.Publish.KeepReleases,
			ServedURL:    cfg.Publish.ServedURL,
		})
	case "http":
		s.target = publish.NewHTTPTarget(publish.HTTPConfig{
			Endpoint:  cfg.Publish.Endpoint,
			Token:     cfg.Publish.Token,
			Timeout:   cfg.Publish.Timeout,
			UserAgent: cfg.Oracle.UserAgent,
		})
	}

	for _, opt := range opts {
		opt(s)
	}

	s.coord = NewCoordinator(s.runDeployment, logger)
	return s, nil
}

// Start launches the coordinator worker and, unless disabled, the
// periodic trigger. Both stop when ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	go s.coord.Run(ctx)
	if !s.config.Schedule.Disabled {
		go s.scheduleLoop(ctx)
	}
}

// scheduleLoop fires one trigger immediately, then one per interval, so a
// freshly started service publishes without waiting for the first tick.
func (s *Service) scheduleLoop(ctx context.Context) {
	s.Trigger("schedule")

	ticker := time.NewTicker(s.config.Schedule.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Trigger("schedule")
		}
	}
}

// Close releases resources not tied to the Start context (currently the
// rate limiter's cleanup goroutine).
func (s *Service) Close() {
	s.limiter.Close()
}

// Trigger requests a deployment run from the named source. All three
// trigger surfaces funnel through here. Reports whether a pending trigger
// was displaced (coalesced away).
func (s *Service) Trigger(source string) bool {
	return s.coord.Request(Trigger{Source: source, RequestedAt: time.Now()})
}

// Stats returns the coordinator counters.
func (s *Service) Stats() CoordinatorStats {
	return s.coord.Stats()
}

// LastOutcome returns the most recent completed run, or nil before the
// first run finishes.
func (s *Service) LastOutcome() *Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	out := *s.last
	return &out
}

// runDeployment executes one full run. It is only ever called by the
// coordinator worker, one invocation at a time.
func (s *Service) runDeployment(ctx context.Context, t Trigger) {
	out := &Outcome{
		RunID:     s.newID(),
		Trigger:   t,
		StartedAt: time.Now(),
	}
	logger := s.logger.With("run_id", out.RunID, "trigger", t.Source)
	logger.Info("deployment run started")

	out.Phase = PhaseFetching
	snap, err := s.fetch.Fetch(ctx)
	if err != nil {
		s.finish(ctx, out, fmt.Errorf("%w: %w", ErrOracleUnavailable, err), logger)
		return
	}
	out.Mirrors = snap.MirrorCount()

	out.Phase = PhaseSelecting
	outputs := make([]artifact.Output, 0, len(s.config.Regions))
	for _, rc := range s.config.Regions {
		urls, err := snapshot.Select(snap, snapshot.RegionPath(rc.Path))
		if err != nil {
			s.finish(ctx, out, err, logger)
			return
		}
		if len(urls) == 0 {
			logger.Warn("no alive mirror for region", "region", rc.Path)
		}
		out.Selected += len(urls)
		outputs = append(outputs, artifact.Output{Name: rc.Output, URLs: urls})
	}
	out.Regions = len(outputs)

	out.Phase = PhaseWriting
	art, err := s.writer.Stage(outputs, s.config.PassthroughDir)
	if err != nil {
		s.finish(ctx, out, err, logger)
		return
	}
	defer art.Close()

	out.Phase = PhaseUploading
	served, err := s.target.Publish(ctx, art.Dir)
	if err != nil {
		s.finish(ctx, out, fmt.Errorf("%w: %w", ErrUploadFailed, err), logger)
		return
	}
	out.ServedURL = served

	s.finish(ctx, out, nil, logger)
}

// finish stamps the outcome, remembers it, records it, and logs it. All
// failures surface here; none are silently swallowed.
func (s *Service) finish(ctx context.Context, out *Outcome, err error, logger *slog.Logger) {
	out.FinishedAt = time.Now()
	out.Err = err
	if err != nil {
		out.Status = "failed"
		logger.Error("deployment run failed",
			"phase", out.Phase, "error", err,
			"duration", out.FinishedAt.Sub(out.StartedAt))
	} else {
		out.Status = "success"
		logger.Info("deployment run succeeded",
			"served", out.ServedURL,
			"regions", out.Regions, "mirrors", out.Mirrors, "selected", out.Selected,
			"duration", out.FinishedAt.Sub(out.StartedAt))
	}

	s.mu.Lock()
	s.last = out
	s.mu.Unlock()

	if s.store != nil {
		errText := ""
		if err != nil {
			errText = err.Error()
		}
		rec := history.Run{
			ID:         out.RunID,
			Trigger:    out.Trigger.Source,
			Status:     out.Status,
			Phase:      string(out.Phase),
			Error:      errText,
			ServedURL:  out.ServedURL,
			StartedAt:  out.StartedAt,
			FinishedAt: out.FinishedAt,
			Regions:    out.Regions,
			Mirrors:    out.Mirrors,
			Selected:   out.Selected,
		}
		if rerr := s.store.Record(ctx, rec); rerr != nil {
			logger.Warn("history record failed", "error", rerr)
		}
	}
}
