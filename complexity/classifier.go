// Package complexity assigns a coarse difficulty label to a prompt before any
// model call. The classifier is a pure function of the user-visible text:
// lexical and structural signals are normalised into [0,1] and linearly
// combined, then mapped onto a band.
package complexity

import (
	"math"
	"strings"
)

// Level is the coarse difficulty band of a prompt.
type Level string

const (
	Trivial  Level = "trivial"
	Simple   Level = "simple"
	Moderate Level = "moderate"
	Hard     Level = "hard"
	Expert   Level = "expert"
)

// levelRank orders levels for bump/compare operations.
var levelRank = map[Level]int{
	Trivial:  0,
	Simple:   1,
	Moderate: 2,
	Hard:     3,
	Expert:   4,
}

// Rank returns the numeric position of the level, trivial = 0.
func (l Level) Rank() int { return levelRank[l] }

// AtLeast returns the higher of the two levels.
func (l Level) AtLeast(other Level) Level {
	if levelRank[other] > levelRank[l] {
		return other
	}
	return l
}

// Verdict is the classifier output.
type Verdict struct {
	Level      Level
	Confidence float64            // in [0,1]
	Signals    map[string]float64 // per-signal contributions, for tracing
}

// Signal weights. The weighted sum lands in [0,1] and is banded by scoreBands.
const (
	weightLength    = 0.45
	weightStructure = 0.25
	weightDomain    = 0.20
	weightDirective = 0.10
)

// Word-count thresholds for the length signal, one logistic step per band.
var lengthThresholds = []int{5, 30, 120, 400}

// scoreBands maps the combined score onto levels. Edges are half-open:
// score < edge selects the lower band.
var scoreBands = []struct {
	edge  float64
	level Level
}{
	{0.15, Trivial},
	{0.35, Simple},
	{0.60, Moderate},
	{0.85, Hard},
	{math.Inf(1), Expert},
}

// structureMarkers are substrings indicating code, math, or structured markup.
var structureMarkers = []string{
	"```", "~~~", "{", "};", "=>", "->", "SELECT ", "select *",
	"∑", "∫", "√", "≈", "≥", "≤", "\\frac", "\\sum", "$$",
	"<xml", "<html", "</", "| ---", "#include", "def ", "func ", "class ",
}

// domainLexicon is a curated vocabulary partitioned by field. Each lexicon
// hit shifts the band one step up, capped at three (applied after banding).
var domainLexicon = map[string][]string{
	"stem":       {"theorem", "integral", "derivative", "quantum", "entropy", "tensor", "polynomial", "eigenvalue", "stoichiometry"},
	"philosophy": {"epistemology", "ontology", "utilitarian", "categorical imperative", "phenomenology", "dialectic"},
	"law":        {"statute", "tort", "liability", "jurisdiction", "precedent", "indemnity", "plaintiff"},
	"medicine":   {"diagnosis", "pathology", "etiology", "pharmacokinetics", "prognosis", "contraindication"},
	"systems":    {"consensus", "byzantine", "raft", "paxos", "sharding", "throughput", "concurrency", "distributed", "idempotent", "cache coherence"},
	"ml":         {"gradient", "backpropagation", "transformer", "embedding", "overfitting", "hyperparameter", "attention", "fine-tuning"},
}

// directiveVerbs indicate design/analysis work; any hit raises the floor to
// at least Moderate.
var directiveVerbs = []string{
	"design", "prove", "derive", "compare", "optimise", "optimize",
	"analyze", "analyse", "architect", "formalize", "formalise",
}

// Classify scores the concatenated user-visible text of a request. System
// prompts must be excluded by the caller. Empty text is trivial with
// confidence 1.
func Classify(text string) Verdict {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Verdict{Level: Trivial, Confidence: 1, Signals: map[string]float64{}}
	}
	lower := strings.ToLower(trimmed)
	words := len(strings.Fields(trimmed))

	lengthScore := lengthSignal(words)
	structScore := structureSignal(trimmed)
	domainHits, domainScore := domainSignal(lower)
	directiveScore := directiveSignal(lower)

	score := weightLength*lengthScore +
		weightStructure*structScore +
		weightDomain*domainScore +
		weightDirective*directiveScore

	level := bandFor(score)

	// Domain vocabulary shifts one step up per domain hit, saturating at
	// expert. Directive verbs raise the floor to moderate.
	for i := 0; i < domainHits && level != Expert; i++ {
		level = bump(level)
	}
	if directiveScore > 0 {
		level = level.AtLeast(Moderate)
	}

	return Verdict{
		Level:      level,
		Confidence: confidence(score, level),
		Signals: map[string]float64{
			"length":    lengthScore,
			"structure": structScore,
			"domain":    domainScore,
			"directive": directiveScore,
			"combined":  score,
		},
	}
}

// lengthSignal is a logistic ramp over the word-count thresholds: each
// threshold crossed contributes one quarter of the signal.
func lengthSignal(words int) float64 {
	s := 0.0
	prev := 0
	for _, t := range lengthThresholds {
		if words >= t {
			s += 0.25
			prev = t
			continue
		}
		// Partial credit within the current bracket.
		s += 0.25 * float64(words-prev) / float64(t-prev)
		break
	}
	return clamp01(s)
}

func structureSignal(text string) float64 {
	hits := 0
	for _, m := range structureMarkers {
		if strings.Contains(text, m) {
			hits++
		}
	}
	return clamp01(float64(hits) / 3)
}

func domainSignal(lower string) (hits int, score float64) {
	for _, terms := range domainLexicon {
		for _, t := range terms {
			if strings.Contains(lower, t) {
				hits++
			}
		}
	}
	if hits > 3 {
		hits = 3
	}
	return hits, clamp01(float64(hits) / 3)
}

func directiveSignal(lower string) float64 {
	for _, v := range directiveVerbs {
		if strings.Contains(lower, v) {
			return 1
		}
	}
	return 0
}

func bandFor(score float64) Level {
	for _, b := range scoreBands {
		if score < b.edge {
			return b.level
		}
	}
	return Expert
}

func bump(l Level) Level {
	switch l {
	case Trivial:
		return Simple
	case Simple:
		return Moderate
	case Moderate:
		return Hard
	default:
		return Expert
	}
}

// confidence measures how far the score sits from the nearest band edge:
// mid-band scores are confident, edge scores are not.
func confidence(score float64, level Level) float64 {
	lo := 0.0
	for _, b := range scoreBands {
		if b.level == level {
			hi := b.edge
			if math.IsInf(hi, 1) {
				hi = 1.0
			}
			width := hi - lo
			if width <= 0 {
				return 1
			}
			mid := lo + width/2
			dist := math.Abs(score-mid) / (width / 2)
			return clamp01(1 - 0.5*dist)
		}
		lo = b.edge
	}
	return 0.5
}

func clamp01(v float64) float64 { return math.Max(0, math.Min(1, v)) }
