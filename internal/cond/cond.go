// Package cond implements the minimal AND-only condition expression
// language used on edges to decide which outgoing edge the engine takes.
package cond

import (
	"fmt"
	"strings"

	"github.com/flowgraph/attractor/internal/runtime"
)

// Evaluate evaluates a condition expression against an outcome and context.
//
// Grammar: ConditionExpr ::= Clause ( '&&' Clause )*
//
//	Clause ::= Key '=' Literal | Key '!=' Literal | Key
//	Key    ::= 'outcome' | 'preferred_label' | 'context.' Name | Name
//
// An empty (or whitespace-only) condition always evaluates true.
func Evaluate(condition string, outcome *runtime.Outcome, ctx *runtime.Context) bool {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true
	}
	for _, clause := range strings.Split(condition, "&&") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		if !evaluateClause(clause, outcome, ctx) {
			return false
		}
	}
	return true
}

func evaluateClause(clause string, outcome *runtime.Outcome, ctx *runtime.Context) bool {
	// "!=" must be checked before "=" or its second byte would be mistaken
	// for an equality operator.
	if idx := strings.Index(clause, "!="); idx >= 0 {
		key := strings.TrimSpace(clause[:idx])
		want := strings.TrimSpace(clause[idx+2:])
		return resolveKey(key, outcome, ctx) != want
	}
	if idx := strings.Index(clause, "="); idx >= 0 {
		key := strings.TrimSpace(clause[:idx])
		want := strings.TrimSpace(clause[idx+1:])
		return resolveKey(key, outcome, ctx) == want
	}
	got := resolveKey(strings.TrimSpace(clause), outcome, ctx)
	return isTruthy(got)
}

func isTruthy(s string) bool {
	return s != ""
}

func resolveKey(key string, outcome *runtime.Outcome, ctx *runtime.Context) string {
	switch key {
	case "outcome":
		if outcome == nil {
			return ""
		}
		return string(outcome.Status)
	case "preferred_label":
		if outcome == nil {
			return ""
		}
		return outcome.PreferredLabel
	}
	if strings.HasPrefix(key, "context.") {
		if ctx == nil {
			return ""
		}
		if v, ok := ctx.Get(key); ok {
			return fmt.Sprint(v)
		}
		if v, ok := ctx.Get(strings.TrimPrefix(key, "context.")); ok {
			return fmt.Sprint(v)
		}
		return ""
	}
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Get(key); ok {
		return fmt.Sprint(v)
	}
	return ""
}

// Validate reports whether a condition expression is syntactically sound —
// every clause names a non-empty key. Used by the validator to catch
// malformed edge conditions before a run starts.
func Validate(condition string) error {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return nil
	}
	for _, clause := range strings.Split(condition, "&&") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			return fmt.Errorf("empty clause in condition %q", condition)
		}
		var key string
		switch {
		case strings.Contains(clause, "!="):
			key = strings.TrimSpace(strings.SplitN(clause, "!=", 2)[0])
		case strings.Contains(clause, "="):
			key = strings.TrimSpace(strings.SplitN(clause, "=", 2)[0])
		default:
			key = clause
		}
		if key == "" {
			return fmt.Errorf("empty key in clause %q", clause)
		}
	}
	return nil
}

// NormalizeLabel canonicalizes an edge or preferred label for step-2 edge
// selection: lowercase, trim, and strip a leading accelerator prefix such as
// "[Y] ", "Y) " or "Y - ".
func NormalizeLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return ""
	}
	trimmed := label
	if strings.HasPrefix(trimmed, "[") {
		if end := strings.Index(trimmed, "]"); end > 0 {
			trimmed = strings.TrimSpace(trimmed[end+1:])
		}
	} else if len(trimmed) >= 2 && isAlphaNumeric(trimmed[0]) {
		switch {
		case trimmed[1] == ')' || trimmed[1] == '-':
			trimmed = strings.TrimSpace(trimmed[2:])
		case len(trimmed) >= 3 && trimmed[1] == ' ' && trimmed[2] == '-':
			trimmed = strings.TrimSpace(trimmed[3:])
		}
	}
	return strings.ToLower(strings.TrimSpace(trimmed))
}

func isAlphaNumeric(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// AcceleratorKey extracts the single alphanumeric accelerator character from
// an edge label's leading "[X]", "X)" or "X -" pattern. Returns "" when no
// pattern matches. The wait.human handler does not call it: it derives its
// choice keys with its own helper, which falls back to the label's first
// character.
func AcceleratorKey(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return ""
	}
	if strings.HasPrefix(label, "[") && len(label) >= 3 {
		if isAlphaNumeric(label[1]) && label[2] == ']' {
			return strings.ToLower(string(label[1]))
		}
	}
	if len(label) >= 2 && isAlphaNumeric(label[0]) {
		if label[1] == ')' || label[1] == '-' || (len(label) >= 3 && label[1] == ' ' && label[2] == '-') {
			return strings.ToLower(string(label[0]))
		}
	}
	return ""
}
