package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/meridianlabs/feeflow/pkg/distributor"
)

// States of the supervisor loop.
const (
	StateIdle           = "idle"
	StateRunning        = "running"
	StateRetryScheduled = "retry_scheduled"
	StateHalted         = "halted"
)

// CycleRunner runs one distribution cycle.
type CycleRunner interface {
	RunDistributionCycle(ctx context.Context) (*distributor.Cycle, error)
}

// Status is the read-only view surrounding tooling gets.
type Status struct {
	State        string             `json:"state"`
	IsProcessing bool               `json:"isProcessing"`
	LastRunTime  time.Time          `json:"lastRunTime"`
	RunCount     int                `json:"runCount"`
	RetryCount   int                `json:"retryCount"`
	LastCycle    *distributor.Cycle `json:"lastCycle,omitempty"`
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Runner CycleRunner

	// Interval is the cadence between automatic cycles.
	Interval time.Duration

	// RetryDelay is the wait before the single retry of a failed cycle.
	RetryDelay time.Duration

	// MaxRetries caps consecutive failed retries before the supervisor
	// halts automatic scheduling and waits for manual intervention.
	MaxRetries int

	// OnCycleFailure, when set, is called with every terminal cycle
	// failure (error reporting hook).
	OnCycleFailure func(error)
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Runner == nil {
		return errors.New("cycle runner is required")
	}
	if cfg.Interval <= 0 {
		return errors.New("interval must be greater than 0")
	}
	if cfg.RetryDelay <= 0 {
		return errors.New("retry delay must be greater than 0")
	}
	if cfg.MaxRetries <= 0 {
		return errors.New("max retries must be greater than 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type cycleResult struct {
	cycle *distributor.Cycle
	err   error
}

// Supervisor triggers distribution cycles on a fixed cadence with at most
// one in flight. All scheduler state lives inside the Run loop and is
// mutated only there; callers interact through channels, never shared
// flags.
type Supervisor struct {
	log *slog.Logger
	cfg Config

	manualCh chan struct{}
	statusCh chan chan Status
	done     chan struct{}
}

func New(cfg Config) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Supervisor{
		log:      cfg.Logger,
		cfg:      cfg,
		manualCh: make(chan struct{}, 1),
		statusCh: make(chan chan Status),
		done:     make(chan struct{}),
	}, nil
}

// TriggerNow requests an immediate cycle, for an external scheduler or an
// operator. It also resumes a halted supervisor. Non-blocking; redundant
// triggers collapse.
func (s *Supervisor) TriggerNow() {
	select {
	case s.manualCh <- struct{}{}:
	default:
	}
}

// Status reads the current supervisor state. Safe from any goroutine.
func (s *Supervisor) Status() Status {
	reply := make(chan Status, 1)
	select {
	case s.statusCh <- reply:
		return <-reply
	case <-s.done:
		return Status{State: StateIdle}
	}
}

// Run drives the cadence until the context ends. It owns every piece of
// scheduler state: the in-flight guard, run counters, retry bookkeeping.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.done)

	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var (
		state      = StateIdle
		lastRun    time.Time
		runCount   int
		retryCount int
		lastCycle  *distributor.Cycle
		resultCh   = make(chan cycleResult, 1)
		retryCh    <-chan time.Time
	)

	start := func() {
		state = StateRunning
		lastRun = s.cfg.Clock.Now()
		runCount++
		retryCh = nil
		go func() {
			cycle, err := s.cfg.Runner.RunDistributionCycle(ctx)
			resultCh <- cycleResult{cycle: cycle, err: err}
		}()
	}

	tryStart := func(origin string) {
		if state == StateRunning {
			// Overlapping triggers are skipped, never queued.
			s.log.Debug("supervisor: cycle already running, skipping trigger", "origin", origin)
			return
		}
		if state == StateHalted && origin != "manual" {
			s.log.Warn("supervisor: halted after retry exhaustion, waiting for manual trigger")
			return
		}
		if origin == "manual" {
			retryCount = 0
		}
		s.log.Info("supervisor: starting distribution cycle", "origin", origin, "run", runCount+1)
		start()
	}

	s.log.Info("supervisor: started",
		"interval", s.cfg.Interval,
		"retry_delay", s.cfg.RetryDelay,
		"max_retries", s.cfg.MaxRetries)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.Chan():
			tryStart("schedule")

		case <-s.manualCh:
			tryStart("manual")

		case <-retryCh:
			tryStart("retry")

		case res := <-resultCh:
			lastCycle = res.cycle
			if res.err == nil {
				state = StateIdle
				retryCount = 0
				continue
			}

			if s.cfg.OnCycleFailure != nil {
				s.cfg.OnCycleFailure(res.err)
			}
			if retryCount >= s.cfg.MaxRetries {
				state = StateHalted
				s.log.Error("supervisor: retries exhausted, manual intervention required",
					"retries", retryCount, "error", res.err)
				continue
			}
			retryCount++
			state = StateRetryScheduled
			retryCh = s.cfg.Clock.After(s.cfg.RetryDelay)
			s.log.Warn("supervisor: cycle failed, retry scheduled",
				"retry", retryCount, "of", s.cfg.MaxRetries,
				"delay", s.cfg.RetryDelay, "error", res.err)

		case reply := <-s.statusCh:
			reply <- Status{
				State:        state,
				IsProcessing: state == StateRunning,
				LastRunTime:  lastRun,
				RunCount:     runCount,
				RetryCount:   retryCount,
				LastCycle:    lastCycle,
			}
		}
	}
}
