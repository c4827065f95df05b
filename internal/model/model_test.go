package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNode_AttrReturnsDefaultWhenUnset(t *testing.T) {
	n := NewNode("a")
	assert.Equal(t, "fallback", n.Attr("missing", "fallback"))
}

func TestNode_MaxRetries_UnsetReturnsNotOK(t *testing.T) {
	n := NewNode("a")
	_, ok := n.MaxRetries()
	assert.False(t, ok)

	n.Attrs["max_retries"] = "3"
	v, ok := n.MaxRetries()
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestNode_MaxRetries_InvalidValueIsNotOK(t *testing.T) {
	n := NewNode("a")
	n.Attrs["max_retries"] = "not-a-number"
	_, ok := n.MaxRetries()
	assert.False(t, ok)
}

func TestNode_Timeout_CachesParsedValue(t *testing.T) {
	n := NewNode("a")
	n.Attrs["timeout"] = "500ms"
	assert.Equal(t, 500*time.Millisecond, n.Timeout())

	n.Attrs["timeout"] = "10s"
	assert.Equal(t, 500*time.Millisecond, n.Timeout(), "cached value must not change after the attr is mutated")
}

func TestParseDuration_SupportsAllSuffixes(t *testing.T) {
	cases := map[string]time.Duration{
		"500ms": 500 * time.Millisecond,
		"30s":   30 * time.Second,
		"5m":    5 * time.Minute,
		"2h":    2 * time.Hour,
		"1d":    24 * time.Hour,
		"45":    45 * time.Second,
		"":      0,
		"junk":  0,
	}
	for raw, want := range cases {
		assert.Equal(t, want, ParseDuration(raw), "raw=%q", raw)
	}
}

func TestIsStart_MatchesShapeOrID(t *testing.T) {
	n1 := NewNode("begin")
	n1.Attrs["shape"] = "Mdiamond"
	assert.True(t, IsStart(n1))

	n2 := NewNode("Start")
	assert.True(t, IsStart(n2))

	n3 := NewNode("build")
	assert.False(t, IsStart(n3))
}

func TestIsTerminal_MatchesShapeOrKnownIDs(t *testing.T) {
	n1 := NewNode("finish")
	n1.Attrs["shape"] = "Msquare"
	assert.True(t, IsTerminal(n1))

	for _, id := range []string{"exit", "End", "DONE"} {
		assert.True(t, IsTerminal(NewNode(id)), "id=%s", id)
	}

	assert.False(t, IsTerminal(NewNode("build")))
}

func TestGraph_OutgoingAndIncomingPreserveOrder(t *testing.T) {
	g := NewGraph("g")
	g.AddNode(NewNode("a"))
	g.AddNode(NewNode("b"))
	g.AddNode(NewNode("c"))
	g.AddEdge(NewEdge("a", "b"))
	g.AddEdge(NewEdge("a", "c"))

	out := g.Outgoing("a")
	if assert.Len(t, out, 2) {
		assert.Equal(t, "b", out[0].To)
		assert.Equal(t, "c", out[1].To)
	}

	in := g.Incoming("c")
	if assert.Len(t, in, 1) {
		assert.Equal(t, "a", in[0].From)
	}
}

func TestGraph_DefaultMaxRetryFallsBackTo50(t *testing.T) {
	g := NewGraph("g")
	assert.Equal(t, 50, g.DefaultMaxRetry())

	g.Attrs["default_max_retry"] = "7"
	assert.Equal(t, 7, g.DefaultMaxRetry())
}
