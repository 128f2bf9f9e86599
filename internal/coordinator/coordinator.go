// Package coordinator implements C7 — the single entry point
// that wires RateGovernor, Store, WorkerPool, and one Enumerator per peer
// together, piping DownloadTasks into the pool via a bounded channel and
// aggregating the result stream into a run Summary.
package coordinator

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teleaudio/teleaudio/internal/core"
	"github.com/teleaudio/teleaudio/internal/enumerator"
	"github.com/teleaudio/teleaudio/internal/fetcher"
	"github.com/teleaudio/teleaudio/internal/logging"
	"github.com/teleaudio/teleaudio/internal/rategovernor"
	"github.com/teleaudio/teleaudio/internal/telegram"
	"github.com/teleaudio/teleaudio/internal/workerpool"
)

// Transport is the subset of *telegram.Client the Coordinator and its
// collaborators need; narrowed to an interface so a run can be driven end to
// end against a fake in tests, without a live MTProto session.
type Transport interface {
	ResolvePeer(ctx context.Context, ref string) (int64, string, error)
	RefreshFileRef(ctx context.Context, peerID, messageID int64) (telegram.FileRef, error)
	FetchChunk(ctx context.Context, ref telegram.FileRef, offset, length int64) (telegram.ChunkResult, error)
	IterMessages(ctx context.Context, peerID, cursor int64, direction core.Direction) iter.Seq2[telegram.Message, error]
}

// StateStore is the subset of *store.Store the Coordinator and its
// collaborators need, assembled from the narrower contracts each
// collaborator already defines for itself.
type StateStore interface {
	fetcher.ProgressStore
	workerpool.Claimer
	enumerator.CursorStore
	RevertInProgress(ctx context.Context) (int64, error)
}

// Summary aggregates a run's outcome counts .
type Summary struct {
	Attempted  int64
	Completed  int64
	Failed     int64
	Skipped    int64
	TotalBytes int64
}

// Config bundles every tunable a run needs.
type Config struct {
	Peers     []string
	Limit     int64 // 0 means unbounded
	Force     bool
	Direction core.Direction

	Governor   rategovernor.Config
	Pool       workerpool.Config
	Fetch      fetcher.Config
	Enumerator enumerator.Config
}

// fetchRunner adapts fetcher.Fetcher to workerpool.Runner by resolving a
// fresh FileRef for the claimed record before the chunk loop starts — a
// FileRecord never stores its FileRef (: only durable identifiers are
// persisted), so every claim needs a RefreshFileRef round trip.
type fetchRunner struct {
	transport Transport
	fetcher   *fetcher.Fetcher
}

func (r *fetchRunner) Run(ctx context.Context, rec core.FileRecord) error {
	ref, err := r.transport.RefreshFileRef(ctx, rec.PeerID, rec.MessageID)
	if err != nil {
		return &core.Retriable{Kind: core.ErrorKindFileReferenceExpired, Err: err}
	}
	return r.fetcher.Run(ctx, rec, ref)
}

// Coordinator owns one run's worth of collaborators.
type Coordinator struct {
	cfg       Config
	transport Transport
	store     StateStore
	logger    logging.Logger
}

func New(cfg Config, transport Transport, st StateStore, logger logging.Logger) *Coordinator {
	return &Coordinator{cfg: cfg, transport: transport, store: st, logger: logger}
}

// Run executes one full download pass across cfg.Peers and returns the
// aggregated Summary. It always reverts stray IN_PROGRESS claims before
// returning, whether the run finished cleanly or was cancelled.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	runID := uuid.New().String()
	if c.logger != nil {
		c.logger.Info("run starting", "run_id", runID, "peers", len(c.cfg.Peers))
	}

	governor := rategovernor.New(c.cfg.Governor)
	defer governor.Close()

	f := fetcher.New(c.cfg.Fetch, c.transport, governor, c.store, c.logger)
	runner := &fetchRunner{transport: c.transport, fetcher: f}
	pool := workerpool.New(c.cfg.Pool, c.store, runner)
	pool.Run(ctx)

	var remaining *atomic.Int64
	if c.cfg.Limit > 0 {
		remaining = &atomic.Int64{}
		remaining.Store(c.cfg.Limit)
	}

	var summary Summary
	done := make(chan struct{})
	go func() {
		defer close(done)
		for outcome := range pool.Results() {
			atomic.AddInt64(&summary.Attempted, 1)
			switch outcome.State {
			case workerpool.StateCompleted:
				atomic.AddInt64(&summary.Completed, 1)
				atomic.AddInt64(&summary.TotalBytes, outcome.Bytes)
			case workerpool.StateFailed:
				atomic.AddInt64(&summary.Failed, 1)
			default:
				atomic.AddInt64(&summary.Skipped, 1)
			}
			if c.logger != nil {
				c.logger.Debug("task outcome", "file_id", outcome.Task.Record.FileID, "state", string(outcome.State))
			}
		}
	}()

	var wg sync.WaitGroup
	enumCfg := c.cfg.Enumerator
	enumCfg.Force = c.cfg.Force
	for _, peerRef := range c.cfg.Peers {
		peerID, displayName, err := c.transport.ResolvePeer(ctx, peerRef)
		if err != nil {
			if c.logger != nil {
				c.logger.Error("resolve peer failed", "peer", peerRef, "error", err.Error())
			}
			continue
		}
		if c.logger != nil {
			c.logger.Info("scanning peer", "peer", displayName, "peer_id", peerID)
		}

		e := enumerator.New(enumCfg, c.transport, c.store)
		wg.Add(1)
		go func(peerID int64) {
			defer wg.Done()
			for task, err := range e.Stream(ctx, peerID, c.cfg.Direction, remaining) {
				if err != nil {
					if c.logger != nil {
						c.logger.Error("enumeration error", "peer_id", peerID, "error", err.Error())
					}
					return
				}
				if subErr := pool.Submit(ctx, task); subErr != nil {
					return
				}
			}
		}(peerID)
	}

	wg.Wait()
	pool.Drain()
	<-done

	reverted, revertErr := c.store.RevertInProgress(ctx)
	if revertErr != nil {
		return summary, fmt.Errorf("coordinator: revert in-progress: %w", revertErr)
	}
	if reverted > 0 && c.logger != nil {
		c.logger.Info("reverted stranded claims", "count", reverted)
	}

	if c.logger != nil {
		c.logger.Info("run complete",
			"run_id", runID,
			"attempted", summary.Attempted,
			"completed", summary.Completed,
			"failed", summary.Failed,
			"skipped", summary.Skipped,
			"total_bytes", summary.TotalBytes,
		)
	}
	return summary, nil
}

// GracePeriod is a 10-second drain grace window. Run does not use it:
// Pool.Drain waits for in-flight work without a time bound.
const GracePeriod = 10 * time.Second
