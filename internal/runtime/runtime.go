// Package runtime holds the per-run mutable state: the outcome produced by a
// single handler invocation, the shared context store, and the checkpoint
// snapshot persisted after every stage.
package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// Status is the result classification a handler returns.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusRetry          Status = "retry"
	StatusFail           Status = "fail"
	StatusSkipped        Status = "skipped"
)

// Outcome is the typed return value of a handler invocation. It is produced
// once and consumed by the engine, which discards it after applying
// ContextUpdates and selecting the next edge.
type Outcome struct {
	Status           Status                 `json:"outcome"`
	PreferredLabel   string                 `json:"preferred_next_label,omitempty"`
	SuggestedNextIDs []string               `json:"suggested_next_ids,omitempty"`
	ContextUpdates   map[string]interface{} `json:"context_updates,omitempty"`
	Notes            string                 `json:"notes,omitempty"`
	FailureReason    string                 `json:"failure_reason,omitempty"`
}

// Context is the thread-safe mapping string→value shared across a single
// pipeline run, plus its append-only log. Values are opaque to the engine.
type Context struct {
	mu     sync.RWMutex
	values map[string]interface{}
	logs   []string
}

// NewContext returns an empty, ready-to-use context.
func NewContext() *Context {
	return &Context{values: make(map[string]interface{})}
}

func (c *Context) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

func (c *Context) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// GetString returns the string form of a stored value, or "" when unset or
// not a string.
func (c *Context) GetString(key string) string {
	v, ok := c.Get(key)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func (c *Context) AppendLog(entry string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, entry)
}

// Snapshot returns a serializable shallow copy of all values, safe to hand to
// a checkpoint writer or condition evaluator without holding the lock.
func (c *Context) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]interface{}, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Clone returns a deep-enough copy for branch isolation: a parallel branch
// writing to its clone must never be visible to siblings or the parent.
func (c *Context) Clone() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nc := NewContext()
	for k, v := range c.values {
		nc.values[k] = v
	}
	nc.logs = append([]string(nil), c.logs...)
	return nc
}

// ApplyUpdates merges updates atomically; the engine calls this once per
// stage after the handler returns, per the handler contract.
func (c *Context) ApplyUpdates(updates map[string]interface{}) {
	if len(updates) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range updates {
		c.values[k] = v
	}
}

func (c *Context) Logs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.logs...)
}

// Checkpoint is the on-disk serialization of the engine's progress vector,
// rewritten after every successful stage completion.
type Checkpoint struct {
	Timestamp      time.Time              `json:"timestamp"`
	CurrentNode    string                 `json:"current_node"`
	CompletedNodes []string               `json:"completed_nodes"`
	NodeRetries    map[string]int         `json:"node_retries"`
	Context        map[string]interface{} `json:"context"`
	Logs           []string               `json:"logs"`

	// ContentHash is an advisory blake3 digest of the canonical encoding of
	// the fields above (sorted keys). It is not required for correctness:
	// LoadCheckpoint succeeds whether or not it is present or matches.
	ContentHash string `json:"content_hash,omitempty"`
}

// canonicalFields is the subset of Checkpoint hashed into ContentHash, kept
// separate from Checkpoint so that adding ContentHash itself never perturbs
// its own digest.
type canonicalFields struct {
	Timestamp      time.Time              `json:"timestamp"`
	CurrentNode    string                 `json:"current_node"`
	CompletedNodes []string               `json:"completed_nodes"`
	NodeRetries    map[string]int         `json:"node_retries"`
	Context        map[string]interface{} `json:"context"`
	Logs           []string               `json:"logs"`
}

// computeHash returns the hex-encoded blake3 digest of cp's canonical fields.
// json.Marshal of a map sorts keys, which is what "canonical" means here.
func (cp *Checkpoint) computeHash() (string, error) {
	canon := canonicalFields{
		Timestamp:      cp.Timestamp,
		CurrentNode:    cp.CurrentNode,
		CompletedNodes: cp.CompletedNodes,
		NodeRetries:    cp.NodeRetries,
		Context:        cp.Context,
		Logs:           cp.Logs,
	}
	data, err := json.Marshal(canon)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum), nil
}

// Save writes the checkpoint to path as indented JSON, stamping ContentHash
// first. This is a direct, non-atomic write; internal/checkpoint.Save wraps
// it with a temp-file-then-rename for callers that want crash-safety.
func (cp *Checkpoint) Save(path string) error {
	hash, err := cp.computeHash()
	if err != nil {
		return fmt.Errorf("compute checkpoint hash: %w", err)
	}
	cp.ContentHash = hash
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Verify reports whether cp's stored ContentHash matches its current fields.
// An empty ContentHash (older checkpoints, or hand-authored fixtures) is
// treated as unverifiable, not invalid.
func (cp *Checkpoint) Verify() (ok bool, err error) {
	if cp.ContentHash == "" {
		return true, nil
	}
	want, err := cp.computeHash()
	if err != nil {
		return false, err
	}
	return want == cp.ContentHash, nil
}

// LoadCheckpoint reads and decodes a checkpoint file. Per spec, a missing or
// mismatched content_hash does not fail the load.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}
