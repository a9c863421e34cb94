// Package pipeline runs the stages of a training run in order against the
// layout resolved for that run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/daumittal/carprice/internal/config"
	"github.com/daumittal/carprice/internal/experiment"
	"github.com/google/uuid"
)

var ErrAlreadyRunning = errors.New("training pipeline already running")

// Stage is one step of a training run. Stages read their paths from the run's
// resolver and must not share state with other runs.
type Stage interface {
	Name() string
	Run(ctx context.Context, run *Run) error
}

// Run is the per-run state handed to every stage.
type Run struct {
	ID        string
	Timestamp config.RunTimestamp
	Config    *config.Resolver
	Logger    *slog.Logger
}

type Options struct {
	ConfigPath string
	RootDir    string
	Stages     []Stage
	Store      experiment.Store
	Logger     *slog.Logger
	Clock      func() time.Time
}

type Pipeline struct {
	configPath string
	rootDir    string
	stages     []Stage
	store      experiment.Store
	logger     *slog.Logger
	now        func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup
}

func New(opts Options) (*Pipeline, error) {
	if strings.TrimSpace(opts.ConfigPath) == "" {
		return nil, errors.New("config path is required")
	}
	if len(opts.Stages) == 0 {
		return nil, errors.New("at least one stage is required")
	}
	for i, stage := range opts.Stages {
		if stage == nil {
			return nil, fmt.Errorf("stage %d is nil", i)
		}
	}
	if opts.Store == nil {
		return nil, errors.New("experiment store is required")
	}
	p := &Pipeline{
		configPath: opts.ConfigPath,
		rootDir:    opts.RootDir,
		stages:     opts.Stages,
		store:      opts.Store,
		logger:     opts.Logger,
		now:        opts.Clock,
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Running reports whether a run is in progress.
func (p *Pipeline) Running() bool { return p.running.Load() }

// Wait blocks until a run started with Start has finished.
func (p *Pipeline) Wait() { p.wg.Wait() }

// Exclusive runs fn while holding the same guard as Run and Start, so no run
// can begin until fn returns. It returns ErrAlreadyRunning without calling fn
// when a run is in progress.
func (p *Pipeline) Exclusive(fn func() error) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer p.running.Store(false)
	return fn()
}

// Run executes a full training run synchronously and returns the finished experiment.
// A configuration error is returned before any stage runs or any experiment is recorded.
func (p *Pipeline) Run(ctx context.Context, ts config.RunTimestamp) (experiment.Experiment, error) {
	if !p.running.CompareAndSwap(false, true) {
		return experiment.Experiment{}, ErrAlreadyRunning
	}
	defer p.running.Store(false)

	run, exp, err := p.prepare(ctx, ts)
	if err != nil {
		return experiment.Experiment{}, err
	}
	return p.execute(ctx, run, exp)
}

// Start records the experiment and executes the stages in the background. ctx
// bounds the lifetime of the run, not just the call.
func (p *Pipeline) Start(ctx context.Context, ts config.RunTimestamp) (experiment.Experiment, error) {
	if !p.running.CompareAndSwap(false, true) {
		return experiment.Experiment{}, ErrAlreadyRunning
	}
	run, exp, err := p.prepare(ctx, ts)
	if err != nil {
		p.running.Store(false)
		return experiment.Experiment{}, err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.running.Store(false)
		_, _ = p.execute(ctx, run, exp)
	}()
	return exp, nil
}

func (p *Pipeline) prepare(ctx context.Context, ts config.RunTimestamp) (*Run, experiment.Experiment, error) {
	id := uuid.NewString()
	logger := p.logger.With("experiment_id", id, "timestamp", string(ts))

	opts := []config.Option{config.WithLogger(logger), config.WithClock(p.now)}
	if p.rootDir != "" {
		opts = append(opts, config.WithRootDir(p.rootDir))
	}
	resolver, err := config.NewResolver(p.configPath, ts, opts...)
	if err != nil {
		return nil, experiment.Experiment{}, fmt.Errorf("resolve config: %w", err)
	}
	if err := resolver.Validate(); err != nil {
		return nil, experiment.Experiment{}, fmt.Errorf("validate config: %w", err)
	}

	exp := experiment.Experiment{
		ID:           id,
		RunTimestamp: string(ts),
		Status:       experiment.StatusRunning,
		StartedAt:    p.now().UTC(),
		ArtifactDir:  resolver.TrainingPipelineConfig().ArtifactDir,
	}
	if err := p.store.Create(ctx, exp); err != nil {
		return nil, experiment.Experiment{}, fmt.Errorf("record experiment: %w", err)
	}
	return &Run{ID: id, Timestamp: ts, Config: resolver, Logger: logger}, exp, nil
}

func (p *Pipeline) execute(ctx context.Context, run *Run, exp experiment.Experiment) (experiment.Experiment, error) {
	start := time.Now()
	run.Logger.Info("training run started", "stages", len(p.stages))

	var runErr error
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		stageStart := time.Now()
		run.Logger.Info("stage started", "stage", stage.Name())
		if err := stage.Run(ctx, run); err != nil {
			runErr = fmt.Errorf("%s: %w", stage.Name(), err)
			break
		}
		run.Logger.Info("stage completed", "stage", stage.Name(), "duration_ms", time.Since(stageStart).Milliseconds())
	}

	status := experiment.StatusSucceeded
	message := ""
	if runErr != nil {
		status = experiment.StatusFailed
		message = runErr.Error()
		run.Logger.Error("training run failed", "error", runErr, "duration_ms", time.Since(start).Milliseconds())
	} else {
		run.Logger.Info("training run completed", "duration_ms", time.Since(start).Milliseconds())
	}

	finished, err := p.store.Finish(context.WithoutCancel(ctx), exp.ID, status, p.now(), message)
	if err != nil {
		run.Logger.Error("record experiment result failed", "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("record experiment: %w", err)
		}
		return exp, runErr
	}
	return finished, runErr
}
