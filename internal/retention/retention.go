// Package retention implements the Retention GC (C6): periodic pruning of
// the Event Store by age and count cap, day-partition pruning, and stale
// offset-entry pruning. Grounded on
// _examples/original_source/ingest_manager.py's cleanup_loop.
package retention

import (
	"log"
	"os"
	"sync"
	"time"

	"kerngrid/internal/eventstore"
	"kerngrid/internal/offsets"
	"kerngrid/internal/types"
)

// GC runs the retention algorithm against a Store and an Offset Store.
// running guards against concurrent GC passes (§4.6's concurrency clause).
type GC struct {
	store   *eventstore.Store
	offsets *offsets.Store

	mu      sync.Mutex
	running bool
}

// New returns a GC for store/offsets.
func New(store *eventstore.Store, off *offsets.Store) *GC {
	return &GC{store: store, offsets: off}
}

// Params are the per-run inputs snapshotted from config.
type Params struct {
	RetentionDays      int
	RetentionMaxEvents int
}

// Run executes one GC pass per §4.6 steps 1–7. If a pass is already
// running, Run returns immediately without error (GC must not run
// concurrently with itself).
func (g *GC) Run(params Params) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = true
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
	}()

	cutoff := time.Now().Add(-time.Duration(params.RetentionDays) * 24 * time.Hour)

	var kept []types.Event
	err := g.store.Iterate(func(evt types.Event) error {
		t, perr := time.Parse(time.RFC3339, evt.DetectedAt)
		if perr != nil || !t.Before(cutoff) {
			kept = append(kept, evt)
		}
		return nil
	})
	if err != nil {
		return err
	}

	eventstore.SortByDetectedAt(kept)
	if params.RetentionMaxEvents > 0 && len(kept) > params.RetentionMaxEvents {
		kept = kept[len(kept)-params.RetentionMaxEvents:]
	}

	if err := g.store.Rewrite(kept); err != nil {
		return err
	}

	g.pruneOldPartitions(cutoff)
	g.pruneStaleOffsets()

	log.Printf("[GC] retained %d events (cutoff=%s)", len(kept), cutoff.UTC().Format(time.RFC3339))
	return nil
}

func (g *GC) pruneOldPartitions(cutoff time.Time) {
	parts, err := g.store.PartitionFiles()
	if err != nil {
		log.Printf("[GC] list partitions: %v", err)
		return
	}
	for date, path := range parts {
		t, err := time.Parse("2006-01-02", date)
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			if err := g.store.RemovePartition(path); err != nil {
				log.Printf("[GC] remove partition %s: %v", path, err)
			}
		}
	}
}

func (g *GC) pruneStaleOffsets() {
	for _, path := range g.offsets.Paths() {
		if _, err := os.Stat(path); err != nil {
			g.offsets.Delete(path)
		}
	}
	if err := g.offsets.Save(); err != nil {
		log.Printf("[GC] save offsets: %v", err)
	}
}
