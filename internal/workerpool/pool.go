// Package workerpool implements C5 — the bounded concurrent executor that
// claims queued tasks and runs each one once, with the configured worker
// count clamped to [1, 10] and applied to whole-task concurrency instead of
// intra-file chunk parallelism. A retriable failure is recorded through
// Store.Fail (back to PENDING with a next-eligible time computed by
// cenkalti/backoff/v4's exponential backoff with jitter, until MaxAttempts)
// and reported as Retrying; the pool does not re-run the task itself.
package workerpool

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/teleaudio/teleaudio/internal/core"
	"github.com/teleaudio/teleaudio/internal/store"
)

// TaskState is the in-flight lifecycle of one claimed task.
type TaskState string

const (
	StateQueued    TaskState = "Queued"
	StateClaimed   TaskState = "Claimed"
	StateFetching  TaskState = "Fetching"
	StateRetrying  TaskState = "Retrying"
	StateCompleted TaskState = "Completed"
	StateFailed    TaskState = "Failed"
)

// Outcome reports the terminal disposition of one DownloadTask.
type Outcome struct {
	Task  core.DownloadTask
	State TaskState
	Bytes int64
	Err   error
}

// Claimer is the Store surface the pool needs to arbitrate ownership.
type Claimer interface {
	TryClaim(ctx context.Context, fileID string) (store.ClaimOutcome, *core.FileRecord, error)
	Fail(ctx context.Context, fileID string, kind core.ErrorKind, retriable bool, maxAttempts int, nextEligibleAt time.Time) error
}

// Runner executes a single claimed record to completion or typed error;
// fetcher.Fetcher.Run satisfies this once its FileRef argument is resolved
// by the caller, so the coordinator's fetchRunner bridges the two.
type Runner interface {
	Run(ctx context.Context, rec core.FileRecord) error
}

// Config tunes pool size and retry policy .
type Config struct {
	Workers       int // W
	QueueDepth    int // 4W by default
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxAttempts   int
	JitterPercent float64
}

// DefaultConfig returns the documented defaults, clamped to the hard cap.
func DefaultConfig() Config {
	return Config{
		Workers:       3,
		QueueDepth:    12,
		BaseDelay:     time.Second,
		MaxDelay:      60 * time.Second,
		MaxAttempts:   3,
		JitterPercent: 0.25,
	}
}

const maxWorkers = 10

// Pool is the bounded executor.
type Pool struct {
	cfg     Config
	store   Claimer
	runner  Runner
	queue   chan core.DownloadTask
	results chan Outcome

	wg      sync.WaitGroup
	stopped chan struct{}
	once    sync.Once
}

// New constructs a Pool with cfg.Workers clamped to [1, 10].
func New(cfg Config, store Claimer, runner Runner) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Workers > maxWorkers {
		cfg.Workers = maxWorkers
	}
	if cfg.QueueDepth < cfg.Workers {
		cfg.QueueDepth = 4 * cfg.Workers
	}
	return &Pool{
		cfg:     cfg,
		store:   store,
		runner:  runner,
		queue:   make(chan core.DownloadTask, cfg.QueueDepth),
		results: make(chan Outcome, cfg.QueueDepth),
		stopped: make(chan struct{}),
	}
}

// Submit enqueues task, blocking when the bounded queue is full — this is
// the backpressure that keeps a fast Enumerator from outrunning the pool.
func (p *Pool) Submit(ctx context.Context, task core.DownloadTask) error {
	select {
	case p.queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results exposes the outcome stream for the Coordinator to aggregate.
func (p *Pool) Results() <-chan Outcome { return p.results }

// Run spawns W workers and returns immediately; Drain waits for them to exit.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Drain closes ingress and waits for in-flight work to finish, then closes
// the results channel so the Coordinator's aggregation loop terminates.
func (p *Pool) Drain() {
	p.once.Do(func() { close(p.queue) })
	p.wg.Wait()
	close(p.results)
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for task := range p.queue {
		select {
		case <-ctx.Done():
			p.results <- Outcome{Task: task, State: StateFailed, Err: ctx.Err()}
			continue
		default:
		}

		claimOutcome, rec, err := p.store.TryClaim(ctx, task.Record.FileID)
		if err != nil {
			p.results <- Outcome{Task: task, State: StateFailed, Err: err}
			continue
		}
		if claimOutcome != store.Claimed {
			// Already claimed elsewhere or not found: discard silently
			// ("that task is simply discarded").
			continue
		}

		p.runFetch(ctx, task, *rec)
	}
}

func (p *Pool) runFetch(ctx context.Context, task core.DownloadTask, rec core.FileRecord) {
	err := p.runner.Run(ctx, rec)
	if err == nil {
		p.results <- Outcome{Task: task, State: StateCompleted, Bytes: rec.DeclaredSize}
		return
	}

	if core.IsFatal(err) {
		p.results <- Outcome{Task: task, State: StateFailed, Err: err}
		return
	}

	retriable := core.IsRetriable(err)
	nextEligible := p.nextEligible(rec.Attempts + 1)
	if failErr := p.store.Fail(ctx, rec.FileID, errorKindOf(err), retriable, p.cfg.MaxAttempts, nextEligible); failErr != nil {
		p.results <- Outcome{Task: task, State: StateFailed, Err: failErr}
		return
	}

	state := StateFailed
	if retriable && rec.Attempts+1 < p.cfg.MaxAttempts {
		state = StateRetrying
	}
	p.results <- Outcome{Task: task, State: state, Err: err}
}

// nextEligible computes the exponential-backoff-with-jitter delay for a
// retry using backoff.ExponentialBackOff, matching the base/factor/jitter/cap
// semantics but letting the library own the arithmetic rather than hand
// rolling it.
func (p *Pool) nextEligible(attempt int) time.Time {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.cfg.BaseDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = p.cfg.JitterPercent
	eb.MaxInterval = p.cfg.MaxDelay
	eb.Reset()

	delay := p.cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		d := eb.NextBackOff()
		if d == backoff.Stop {
			delay = p.cfg.MaxDelay
			break
		}
		delay = d
	}
	return time.Now().Add(delay)
}

func errorKindOf(err error) core.ErrorKind {
	if e, ok := err.(*core.Retriable); ok {
		return e.Kind
	}
	if e, ok := err.(*core.NonRetriable); ok {
		return e.Kind
	}
	return core.ErrorKindInternal
}
