package index

import (
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Detector compares the store's maintained summary against a cheap
// filesystem probe and rebuilds the index when they diverge. It is
// deliberately conservative: any mismatch triggers a rebuild, since a
// false-positive rebuild is cheaper than serving an inconsistent tree.
type Detector struct {
	idx     TreeIndex
	scanner *Scanner
	snap    *Snapshot // nil when persistence is disabled
	logger  *slog.Logger

	flight      singleflight.Group
	dirty       atomic.Bool
	lastSig     atomic.Uint64
	lastRebuild atomic.Int64 // unix seconds, 0 = never
}

// HealthStatus is the operational introspection payload.
type HealthStatus struct {
	NodeCount     int       `json:"node_count"`
	IsStale       bool      `json:"is_stale"`
	LastRebuildAt time.Time `json:"last_rebuild_at"`
}

// NewDetector creates a Detector. snap may be nil.
func NewDetector(idx TreeIndex, scanner *Scanner, snap *Snapshot, logger *slog.Logger) *Detector {
	return &Detector{idx: idx, scanner: scanner, snap: snap, logger: logger}
}

// MarkStale force-flags the index stale, guaranteeing a rebuild on the next
// check. Used when an incremental mutation failed after a successful
// filesystem write.
func (d *Detector) MarkStale() {
	d.dirty.Store(true)
}

// ObserveMutation re-samples the root listing signature after a successful
// incremental index mutation. A mutation at the vault root legitimately
// changes the listing; without re-sampling, every such mutation would read
// as external drift and force a needless full rescan on the next check.
func (d *Detector) ObserveMutation() {
	sig, err := d.scanner.rootSignature()
	if err != nil {
		d.dirty.Store(true)
		return
	}
	d.lastSig.Store(sig)
}

// IsStale reports whether the index has drifted from the filesystem.
// A probe failure counts as stale.
func (d *Detector) IsStale() bool {
	if d.dirty.Load() {
		return true
	}
	probe, err := d.scanner.Probe()
	if err != nil {
		d.logger.Warn("staleness: probe failed", slog.String("error", err.Error()))
		return true
	}
	sum := d.idx.Summary()
	if probe.Count != sum.Count || probe.MaxModifiedAt != sum.MaxModifiedAt {
		return true
	}
	// A zero signature means the detector has not observed a rebuild yet
	// (warm start from a snapshot). When the counts agree, adopt the
	// current signature instead of forcing a needless full rescan.
	if sig := d.lastSig.Load(); sig == 0 {
		d.lastSig.Store(probe.RootSig)
		return false
	} else if sig != probe.RootSig {
		return true
	}
	return false
}

// RebuildIfStale rebuilds the index when stale and reports whether it did.
// Concurrent callers are coalesced into a single rebuild.
func (d *Detector) RebuildIfStale() (bool, error) {
	if !d.IsStale() {
		return false, nil
	}
	if _, err := d.Rebuild(); err != nil {
		return false, err
	}
	return true, nil
}

// Rebuild unconditionally rescans the vault and swaps in the fresh tree,
// returning the node count. A rebuild already in progress is joined, not
// duplicated.
func (d *Detector) Rebuild() (int, error) {
	v, err, _ := d.flight.Do("rebuild", func() (any, error) {
		start := time.Now()
		nodes, err := d.scanner.Scan()
		if err != nil {
			return 0, err
		}
		count := d.idx.Rebuild(nodes)

		sig, sigErr := d.scanner.rootSignature()
		if sigErr != nil {
			d.logger.Warn("staleness: signature failed", slog.String("error", sigErr.Error()))
		}
		d.lastSig.Store(sig)
		d.dirty.Store(false)
		d.lastRebuild.Store(time.Now().Unix())

		if d.snap != nil {
			if saveErr := d.snap.Save(d.idx); saveErr != nil {
				d.logger.Warn("staleness: snapshot save failed", slog.String("error", saveErr.Error()))
			}
		}
		d.logger.Info("index rebuilt",
			slog.Int("nodes", count),
			slog.Duration("took", time.Since(start)))
		return count, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Health returns the operational summary for the health endpoint.
func (d *Detector) Health() HealthStatus {
	h := HealthStatus{
		NodeCount: d.idx.Summary().Count,
		IsStale:   d.IsStale(),
	}
	if ts := d.lastRebuild.Load(); ts > 0 {
		h.LastRebuildAt = time.Unix(ts, 0).UTC()
	}
	return h
}
