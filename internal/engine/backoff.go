package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/flowgraph/attractor/internal/model"
)

// BackoffConfig configures the per-attempt retry delay schedule.
type BackoffConfig struct {
	InitialDelayMS int
	BackoffFactor  float64
	MaxDelayMS     int
	Jitter         bool
}

// defaultBackoffConfig matches spec defaults: base 200ms, factor 2.0, cap
// 60s, jitter on.
func defaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelayMS: 200,
		BackoffFactor:  2.0,
		MaxDelayMS:     60_000,
		Jitter:         true,
	}
}

func backoffConfigFor(g *model.Graph, n *model.Node) BackoffConfig {
	cfg := defaultBackoffConfig()
	get := func(key string) string {
		if n != nil {
			if v := n.Attr(key, ""); v != "" {
				return v
			}
		}
		if g != nil {
			if v := g.Attr(key, ""); v != "" {
				return v
			}
		}
		return ""
	}

	if v := get("retry.backoff.initial_delay_ms"); v != "" {
		cfg.InitialDelayMS = parseIntDefault(v, cfg.InitialDelayMS)
	}
	if v := get("retry.backoff.backoff_factor"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.BackoffFactor = f
		}
	}
	if v := get("retry.backoff.max_delay_ms"); v != "" {
		cfg.MaxDelayMS = parseIntDefault(v, cfg.MaxDelayMS)
	}
	if v := get("retry.backoff.jitter"); v != "" {
		cfg.Jitter = parseBoolDefault(v, cfg.Jitter)
	}

	if cfg.InitialDelayMS < 0 {
		cfg.InitialDelayMS = 0
	}
	if cfg.MaxDelayMS < 0 {
		cfg.MaxDelayMS = 0
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 1.0
	}
	return cfg
}

// DelayForAttempt computes base·factor^(attempt-1), capped, then jittered
// uniformly in [0.5, 1.5] when enabled. attempt is 1-indexed. The jitter is
// a deterministic sha256-derived value seeded by jitterSeed rather than
// math/rand, so a run's delay schedule is reproducible given the same
// run id, node id and attempt number.
func DelayForAttempt(attempt int, cfg BackoffConfig, jitterSeed string) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.InitialDelayMS <= 0 {
		return 0
	}

	baseMS := float64(cfg.InitialDelayMS) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	if cfg.MaxDelayMS > 0 {
		baseMS = math.Min(baseMS, float64(cfg.MaxDelayMS))
	}

	if cfg.Jitter {
		baseMS *= 0.5 + jitterUnit(jitterSeed)
	}

	if baseMS < 0 {
		baseMS = 0
	}
	return time.Duration(baseMS * float64(time.Millisecond))
}

// jitterUnit derives a value in [0,1) from seed via sha256, giving
// reproducible jitter without a shared PRNG state.
func jitterUnit(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	u := binary.BigEndian.Uint64(sum[:8])
	const max = float64(^uint64(0))
	return float64(u) / max
}

func backoffDelayForNode(runID string, g *model.Graph, n *model.Node, attempt int) time.Duration {
	nodeID := ""
	if n != nil {
		nodeID = n.ID
	}
	seed := fmt.Sprintf("%s:%s:%d", strings.TrimSpace(runID), nodeID, attempt)
	return DelayForAttempt(attempt, backoffConfigFor(g, n), seed)
}

func parseIntDefault(s string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return v
}

func parseBoolDefault(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y":
		return true
	case "false", "0", "no", "n":
		return false
	default:
		return def
	}
}
