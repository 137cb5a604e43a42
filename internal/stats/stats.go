// Package stats computes on-demand aggregates over the Event Store (C5):
// totals by severity/type/host over arbitrary time windows. Grounded on
// _examples/original_source/data_store.py's compute_stats.
package stats

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"kerngrid/internal/eventstore"
	"kerngrid/internal/types"
)

// Engine computes Summaries from a Store.
type Engine struct {
	store    *eventstore.Store
	lastScan func() string // returns the most recent tailer-pass timestamp, or "" if unknown
}

// New returns a stats Engine reading from store. lastScan supplies the
// most recent server tailer-pass timestamp (§4.5's last_scan field); pass
// nil if the caller has no tailer loop to report on.
func New(store *eventstore.Store, lastScan func() string) *Engine {
	return &Engine{store: store, lastScan: lastScan}
}

// ParseWindow parses a "PT<H>H" or "<H>h" relative-hour window spec into a
// duration. An empty string means "all time" (ok=false, no filtering).
func ParseWindow(window string) (time.Duration, bool) {
	window = strings.TrimSpace(window)
	if window == "" {
		return 0, false
	}
	var hoursStr string
	switch {
	case strings.HasPrefix(window, "PT") && strings.HasSuffix(window, "H"):
		hoursStr = window[2 : len(window)-1]
	case strings.HasSuffix(window, "h"):
		hoursStr = window[:len(window)-1]
	default:
		return 0, false
	}
	hours, err := strconv.Atoi(hoursStr)
	if err != nil || hours < 0 {
		return 0, false
	}
	return time.Duration(hours) * time.Hour, true
}

// Compute scans the Event Store once and returns a Summary filtered by
// window (see ParseWindow) and, if non-empty, hostID. Severity buckets are
// always present, zero-filled, even when no events match (§4.5).
func (e *Engine) Compute(window, hostID string) (types.Summary, error) {
	dur, hasWindow := ParseWindow(window)
	var cutoff time.Time
	if hasWindow {
		cutoff = time.Now().Add(-dur)
	}

	sum := types.Summary{
		BySeverity: map[string]int{
			string(types.SeverityCritical): 0,
			string(types.SeverityMajor):    0,
			string(types.SeverityMinor):    0,
		},
		ByType: map[string]int{},
		ByHost: map[string]int{},
	}
	hostSet := map[string]bool{}
	var maxDetected string

	err := e.store.Iterate(func(evt types.Event) error {
		if hostID != "" && evt.HostID != hostID {
			return nil
		}
		if hasWindow {
			t, perr := time.Parse(time.RFC3339, evt.DetectedAt)
			if perr != nil || t.Before(cutoff) {
				return nil
			}
		}
		sum.Total++
		sum.BySeverity[string(evt.Severity)]++
		sum.ByType[string(evt.Type)]++
		sum.ByHost[evt.HostID]++
		hostSet[evt.HostID] = true
		if evt.DetectedAt > maxDetected {
			maxDetected = evt.DetectedAt
		}
		return nil
	})
	if err != nil {
		return types.Summary{}, err
	}

	hosts := make([]string, 0, len(hostSet))
	for h := range hostSet {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	sum.Hosts = hosts
	sum.LastDetection = maxDetected
	sum.Date = time.Now().UTC().Format("2006-01-02")

	if e.lastScan != nil {
		if ls := e.lastScan(); ls != "" {
			sum.LastScan = ls
		}
	}
	if sum.LastScan == "" {
		sum.LastScan = time.Now().UTC().Format(time.RFC3339)
	}
	return sum, nil
}
