// Package toolrisk tags caller-provided tools with a risk level derived from
// their name and description. A drafter response invoking a high or critical
// tool forces escalation to the verifier regardless of quality.
package toolrisk

import (
	"strings"

	"github.com/jordanhubbard/cascade/provider"
)

// Level is the risk tag of a tool.
type Level string

const (
	Low      Level = "low"
	Medium   Level = "medium"
	High     Level = "high"
	Critical Level = "critical"
)

var levelRank = map[Level]int{Low: 0, Medium: 1, High: 2, Critical: 3}

// Forces reports whether a call to a tool at this level forces escalation.
func (l Level) Forces() bool { return levelRank[l] >= levelRank[High] }

// Keyword sets are disjoint and checked from most to least severe; the first
// matching set wins. Rules are data so they can be audited and overridden.
var riskKeywords = []struct {
	level Level
	terms []string
}{
	{Critical, []string{
		"delete", "drop", "destroy", "wipe", "terminate", "revoke",
		"payment", "transfer", "withdraw", "refund", "charge",
	}},
	{High, []string{
		"write", "update", "create", "insert", "deploy", "execute",
		"send", "post", "publish", "grant", "modify",
	}},
	{Medium, []string{
		"download", "upload", "schedule", "notify", "subscribe",
	}},
	{Low, []string{
		"get", "read", "search", "list", "fetch", "lookup", "query", "describe",
	}},
}

// Classifier caches per-tool risk tags for the life of a request.
type Classifier struct {
	tags map[string]Level
}

// NewClassifier tags every tool in the request up front.
func NewClassifier(tools []provider.ToolSpec) *Classifier {
	c := &Classifier{tags: make(map[string]Level, len(tools))}
	for _, t := range tools {
		c.tags[t.Name] = ClassifySpec(t)
	}
	return c
}

// Risk returns the cached tag for a tool name. Unknown tools are treated as
// high risk: a drafter inventing a tool name is never accepted silently.
func (c *Classifier) Risk(toolName string) Level {
	if l, ok := c.tags[toolName]; ok {
		return l
	}
	return High
}

// AnyForcing reports whether any of the calls targets a high or critical tool.
func (c *Classifier) AnyForcing(calls []provider.ToolCall) bool {
	for _, call := range calls {
		if c.Risk(call.Name).Forces() {
			return true
		}
	}
	return false
}

// ClassifySpec derives the risk level for a single tool from lexical matches
// against the keyword table. No match defaults to medium.
func ClassifySpec(t provider.ToolSpec) Level {
	haystack := strings.ToLower(t.Name + " " + t.Description)
	for _, set := range riskKeywords {
		for _, term := range set.terms {
			if strings.Contains(haystack, term) {
				return set.level
			}
		}
	}
	return Medium
}
