// Package classify matches log lines against the kernel fault taxonomy
// (C1 in the spec): out-of-memory, kernel panic, unexpected reboot,
// filesystem error, kernel oops, deadlock.
package classify

import (
	_ "embed"
	"log"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"kerngrid/internal/types"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// compiledDetector is a DetectorConfig with its regex patterns pre-compiled
// once, so Classify never pays recompilation cost per line.
type compiledDetector struct {
	cfg     types.DetectorConfig
	regexes []*regexp.Regexp
}

// Engine holds the compiled-once detector table. Zero value is not usable;
// construct with NewEngine or NewEngineFromConfig.
type Engine struct {
	detectors map[types.AnomalyType]*compiledDetector
}

// NewEngine builds an Engine from the built-in default table (SPEC_FULL.md
// §2's canonicalized keyword/regex inventory).
func NewEngine() (*Engine, error) {
	var raw map[types.AnomalyType]types.DetectorConfig
	if err := yaml.Unmarshal(defaultsYAML, &raw); err != nil {
		return nil, err
	}
	return NewEngineFromConfig(raw), nil
}

// NewEngineFromConfig builds an Engine from an explicit per-type detector
// table used in place of the built-in defaults. The runtime Configuration
// document carries no detector table, so the server and agent use NewEngine.
func NewEngineFromConfig(cfgs map[types.AnomalyType]types.DetectorConfig) *Engine {
	e := &Engine{detectors: make(map[types.AnomalyType]*compiledDetector, len(cfgs))}
	for t, cfg := range cfgs {
		cd := &compiledDetector{cfg: cfg}
		for _, pat := range cfg.RegexPatterns {
			re, err := regexp.Compile("(?i)" + pat)
			if err != nil {
				log.Printf("[CLASSIFY] skipping invalid regex for %s: %v", t, err)
				continue
			}
			cd.regexes = append(cd.regexes, re)
		}
		e.detectors[t] = cd
	}
	return e
}

// Classify returns every anomaly type that line matches, given the set of
// enabled detector names and a default matching mode used when a detector
// config doesn't specify its own. Matching is case-insensitive. A type is
// never added to the result more than once.
func (e *Engine) Classify(line string, enabled []string, mode types.DetectionMode) []types.AnomalyType {
	enabledSet := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		enabledSet[name] = true
	}
	lower := strings.ToLower(line)

	var matched []types.AnomalyType
	for _, t := range types.AllTypes {
		cd, ok := e.detectors[t]
		if !ok || !cd.cfg.Enabled {
			continue
		}
		if len(enabledSet) > 0 && !enabledSet[string(t)] {
			continue
		}
		effectiveMode := cd.cfg.DetectionMode
		if effectiveMode == "" {
			effectiveMode = mode
		}
		if matchesDetector(cd, lower, effectiveMode) {
			matched = append(matched, t)
		}
	}
	return matched
}

// matchesDetector applies keyword/regex/mixed matching for a single
// detector against an already-lowercased line (per §4.1: keyword first,
// then regex if still unmatched, for mixed mode).
func matchesDetector(cd *compiledDetector, lower string, mode types.DetectionMode) bool {
	switch mode {
	case types.ModeRegex:
		return matchesRegex(cd, lower)
	case types.ModeMixed:
		if matchesKeyword(cd, lower) {
			return true
		}
		return matchesRegex(cd, lower)
	default: // types.ModeKeyword and any unrecognized value
		return matchesKeyword(cd, lower)
	}
}

func matchesKeyword(cd *compiledDetector, lower string) bool {
	for _, kw := range cd.cfg.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func matchesRegex(cd *compiledDetector, lower string) bool {
	for _, re := range cd.regexes {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}
