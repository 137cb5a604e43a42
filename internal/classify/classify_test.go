package classify

import (
	"testing"

	"kerngrid/internal/types"
)

// TestEngine_OOMParity is scenario S1 from spec.md §8: the same OOM line
// must classify identically under mixed, keyword, and regex modes.
func TestEngine_OOMParity(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	line := "Aug 12 10:00:01 host kernel: Out of memory: Killed process 1234 (a.out)"
	enabled := []string{"oom"}

	for _, mode := range []types.DetectionMode{types.ModeMixed, types.ModeKeyword, types.ModeRegex} {
		got := e.Classify(line, enabled, mode)
		if len(got) != 1 || got[0] != types.TypeOOM {
			t.Errorf("mode %s: got %v, want [oom]", mode, got)
		}
	}
}

func TestEngine_NoMatch(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	got := e.Classify("Aug 12 10:00:01 host sshd: Accepted password for root", []string{"oom"}, types.ModeMixed)
	if len(got) != 0 {
		t.Errorf("got %v, want no matches", got)
	}
}

func TestEngine_EnabledSetFilters(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	line := "Kernel panic - not syncing: Fatal exception"
	// kernel_panic detector matches the line, but it's not in the enabled set.
	got := e.Classify(line, []string{"oom"}, types.ModeMixed)
	if len(got) != 0 {
		t.Errorf("got %v, want no matches when type not enabled", got)
	}
	got = e.Classify(line, []string{"kernel_panic"}, types.ModeMixed)
	if len(got) != 1 || got[0] != types.TypeKernelPanic {
		t.Errorf("got %v, want [kernel_panic]", got)
	}
}

func TestEngine_MultipleTypesPerLine(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	// A contrived line matching both oops and deadlock keywords.
	line := "kernel BUG at mm/slab.c:123 possible deadlock detected"
	got := e.Classify(line, nil, types.ModeMixed)
	seen := map[types.AnomalyType]bool{}
	for _, ty := range got {
		if seen[ty] {
			t.Errorf("type %s appeared more than once in result", ty)
		}
		seen[ty] = true
	}
	if !seen[types.TypeOops] || !seen[types.TypeDeadlock] {
		t.Errorf("got %v, want both oops and deadlock", got)
	}
}

func TestEngine_InvalidRegexSkippedNotFatal(t *testing.T) {
	cfgs := map[types.AnomalyType]types.DetectorConfig{
		types.TypeOOM: {
			Name:          "oom",
			Enabled:       true,
			DetectionMode: types.ModeRegex,
			Keywords:      []string{"Out of memory"},
			RegexPatterns: []string{"(unclosed(", "out of memory"},
		},
	}
	e := NewEngineFromConfig(cfgs)
	got := e.Classify("Out of memory: killed process", nil, types.ModeRegex)
	if len(got) != 1 || got[0] != types.TypeOOM {
		t.Errorf("got %v, want [oom] despite one invalid pattern", got)
	}
}

func TestEngine_CaseInsensitive(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	got := e.Classify("OUT OF MEMORY: KILLED PROCESS 99", []string{"oom"}, types.ModeKeyword)
	if len(got) != 1 || got[0] != types.TypeOOM {
		t.Errorf("got %v, want [oom] case-insensitively", got)
	}
}
