// ABOUTME: Background compaction engine: idle ticker drives a fragmentation check, then a bounded rewrite/drop pass
// ABOUTME: Loop shape grounded on the teacher's pkg/wal/checkpoint.go Checkpointer (ticker + stop channel + single active cycle)

package housekeeping

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/arvindrathore/mvstore/internal/logger"
	"github.com/arvindrathore/mvstore/pkg/mvstore"
)

// Phase names the compaction engine's state machine. Unlike the teacher's
// Checkpointer (one unconditional action per tick), a cycle only advances
// past CheckFragmentation when there is something to reclaim.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseCheckFragmentation Phase = "check_fragmentation"
	PhaseMoveChunks         Phase = "move_chunks"
	PhaseRewriteChunks      Phase = "rewrite_chunks"
	PhaseDropUnused         Phase = "drop_unused"
)

// Config tunes the engine's trigger and budget.
type Config struct {
	// Interval is how often CheckFragmentation runs. Grounded on the
	// teacher's DefaultCheckpointInterval, but compaction checks are cheap
	// so the default is much shorter.
	Interval time.Duration
	// FillRateThreshold is the per-chunk live-fraction percentage (0-100)
	// below which a chunk becomes a rewrite candidate.
	FillRateThreshold int
	// MaxCompactTime is the wall-time budget of one cycle. Once it has
	// passed, a rewrite pass that has not started yet is skipped (the cycle
	// returns an error and the next one retries); a pass that has started
	// runs to completion. A cycle that ends past the budget cuts the next
	// cycle's move budget.
	MaxCompactTime time.Duration
	// MaxChunksPerCycle bounds the fan-out width of one rewrite pass.
	MaxChunksPerCycle int
	// MoveBudget bounds how many chunks PhaseMoveChunks relocates per
	// cycle. A cycle with nothing to rewrite (idle mode) doubles this; a
	// cycle following one that ran out its MaxCompactTime budget
	// (back-pressure) quarters it, per spec's move-budget policy.
	MoveBudget int
	// TruncateThresholdPercent is the minimum fraction of the file, in
	// percent, that must be reclaimable tail space before a move pass
	// truncates the file.
	TruncateThresholdPercent int
}

// DefaultConfig returns conservative defaults: check every 30s, condemn
// chunks under 50% live, give a cycle a 30s MaxCompactTime budget.
func DefaultConfig() Config {
	return Config{
		Interval:                 30 * time.Second,
		FillRateThreshold:        50,
		MaxCompactTime:           30 * time.Second,
		MaxChunksPerCycle:        8,
		MoveBudget:               8,
		TruncateThresholdPercent: 10,
	}
}

// Engine runs the compaction state machine against one store in the
// background, one cycle at a time.
type Engine struct {
	store *mvstore.Store
	cfg   Config
	log   *logger.Logger

	group singleflight.Group
	stop  chan struct{}
	done  chan struct{}

	lastPhase     Phase
	underPressure bool // previous cycle hit MaxCompactTime before finishing
}

// New creates a compaction engine for store. Call Start to begin the
// background loop.
func New(store *mvstore.Store, cfg Config) *Engine {
	return &Engine{
		store: store,
		cfg:   cfg,
		log:   logger.GetGlobalLogger().HousekeepingLogger(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start begins the background ticker loop.
func (e *Engine) Start() {
	go e.run()
}

// Stop signals the loop to exit and waits for it to finish. Any in-flight
// cycle is allowed to complete first.
func (e *Engine) Stop() {
	close(e.stop)
	<-e.done
}

func (e *Engine) run() {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.RunCycle(context.Background()); err != nil {
				e.log.LogHousekeepingCycle(string(e.lastPhase), 0, 0, err)
			}
		case <-e.stop:
			return
		}
	}
}

// targetFillRate is the fill rate a fragmented file is considered worth
// physically compacting toward, per spec's ~90% default.
const targetFillRate = 0.90

// RunCycle drives one pass of the state machine: CheckFragmentation, then
// two independent branches. A fragmented, under-filled file triggers
// MoveChunks, physically relocating chunks toward the front of the file and
// truncating the tail. Chunks condemned by fill rate (dead outright, or
// still holding live pages) trigger RewriteChunks/DropUnused, the logical
// reclaim path. singleflight collapses concurrent callers (the ticker and
// an operator-triggered compact) onto one active cycle.
func (e *Engine) RunCycle(ctx context.Context) error {
	_, err, _ := e.group.Do("compact", func() (interface{}, error) {
		return nil, e.runCycleLocked(ctx)
	})
	return err
}

func (e *Engine) runCycleLocked(ctx context.Context) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.MaxCompactTime)
	defer cancel()

	e.lastPhase = PhaseCheckFragmentation
	candidates := e.store.CompactionCandidates(e.cfg.FillRateThreshold)
	if len(candidates) > e.cfg.MaxChunksPerCycle {
		candidates = candidates[:e.cfg.MaxChunksPerCycle]
	}

	moved := 0
	free := e.store.FreeList()
	if free.IsFragmented() && free.FillRate() < targetFillRate {
		e.lastPhase = PhaseMoveChunks
		budget := e.cfg.MoveBudget
		switch {
		case e.underPressure:
			budget /= 4
			if budget < 1 {
				budget = 1
			}
		case len(candidates) == 0:
			budget *= 2
		}

		moveTargets := e.store.MoveCandidates()
		if len(moveTargets) > budget {
			moveTargets = moveTargets[:budget]
		}
		n, err := e.store.MoveChunks(moveTargets, e.cfg.TruncateThresholdPercent)
		if err != nil {
			e.underPressure = true
			return fmt.Errorf("housekeeping: move chunks: %w", err)
		}
		moved = n
	}

	if len(candidates) == 0 {
		e.lastPhase = PhaseIdle
		e.underPressure = ctx.Err() != nil
		if moved > 0 {
			e.log.WithFields(map[string]interface{}{"duration_ms": time.Since(start).Milliseconds()}).
				LogHousekeepingCycle("complete", moved, 0, nil)
		}
		return nil
	}

	deadChunks, liveChunks := e.splitByLiveness(candidates)

	e.lastPhase = PhaseRewriteChunks
	if err := e.store.DropChunks(deadChunks); err != nil {
		e.underPressure = true
		return fmt.Errorf("housekeeping: drop already-dead chunks: %w", err)
	}

	rewritten := 0
	if len(liveChunks) > 0 {
		var g errgroup.Group
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			_, changed, err := e.store.RewriteChunks(liveChunks)
			if changed {
				rewritten = len(liveChunks)
			}
			return err
		})
		if err := g.Wait(); err != nil {
			e.underPressure = true
			return fmt.Errorf("housekeeping: rewrite chunks: %w", err)
		}

		e.lastPhase = PhaseDropUnused
		if err := e.store.DropChunks(liveChunks); err != nil {
			e.underPressure = true
			return fmt.Errorf("housekeeping: drop rewritten chunks: %w", err)
		}
	}

	e.lastPhase = PhaseIdle
	e.underPressure = ctx.Err() != nil
	e.log.WithFields(map[string]interface{}{"duration_ms": time.Since(start).Milliseconds()}).
		LogHousekeepingCycle("complete", moved, rewritten, nil)
	return nil
}

// splitByLiveness partitions candidates into chunks with nothing left to
// relocate (safe to drop immediately) and chunks still holding live pages
// (need a RewriteChunks pass first).
func (e *Engine) splitByLiveness(candidates []uint32) (dead, live []uint32) {
	infos := make(map[uint32]int)
	for _, c := range e.store.ChunkInfos() {
		infos[c.ID] = c.LiveCount
	}
	for _, id := range candidates {
		if infos[id] == 0 {
			dead = append(dead, id)
		} else {
			live = append(live, id)
		}
	}
	return dead, live
}

// LastPhase reports the state machine's most recently entered phase, for
// the dump/inspection surface.
func (e *Engine) LastPhase() Phase {
	return e.lastPhase
}
