// Package quality scores drafter responses and decides whether the cascade
// can stop at the cheap tier. The verdict composes a lexical heuristic, a
// provider-confidence signal, and an optional embedding similarity check.
// String-matching rules are kept in data tables so they can be audited and
// overridden without code changes.
package quality

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/jordanhubbard/cascade/complexity"
	"github.com/jordanhubbard/cascade/embedding"
	"github.com/jordanhubbard/cascade/provider"
	"github.com/jordanhubbard/cascade/toolrisk"
)

// Reason explains a verdict.
type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonTooShort         Reason = "tooShort"
	ReasonRefusal          Reason = "refusal"
	ReasonToolOnly         Reason = "emptyToolOnlyAllowed"
	ReasonLowConfidence    Reason = "lowConfidence"
	ReasonSemanticMismatch Reason = "semanticMismatch"
	ReasonHeuristicLow     Reason = "heuristicLow"
	ReasonHighRiskTool     Reason = "highRiskTool"
)

// Verdict is the validator output, with per-signal scores for tracing.
type Verdict struct {
	Passed  bool
	Score   float64
	Reason  Reason
	Signals map[string]float64
}

// Aggregate weights. When the semantic term is absent the remaining weights
// renormalise to sum to 1.
const (
	weightHeuristic  = 0.5
	weightConfidence = 0.3
	weightSemantic   = 0.2
)

// refusalMarkers rejects responses that decline instead of answering. Matched
// case-insensitively against the head of the response.
var refusalMarkers = []string{
	"i can't", "i cannot", "i can not", "i won't", "i'm unable",
	"i am unable", "as an ai", "i cannot assist", "i'm not able to",
	"i don't know", "idk", "no puedo",
}

const refusalWindow = 160 // chars of the response head scanned for refusals

// hedgingMarkers spend against the hedging budget; more than two hits
// degrades the heuristic.
var hedgingMarkers = []string{
	"i think", "maybe", "possibly", "perhaps", "not sure",
	"it depends", "i believe", "might be", "could be",
}

// directMarkers indicate a direct answer.
var directMarkers = []string{
	"yes", "no", "the ", "because", "therefore", "in short", "answer is", "=",
}

// expectedLength is the response length (chars) considered "full credit" per
// complexity band when the policy sets no explicit MinLength.
var expectedLength = map[complexity.Level]int{
	complexity.Trivial:  1,
	complexity.Simple:   40,
	complexity.Moderate: 120,
	complexity.Hard:     240,
	complexity.Expert:   400,
}

// Validator scores draft responses. A nil embedder disables the semantic term
// regardless of policy.
type Validator struct {
	embedder embedding.Embedder
	logger   *slog.Logger
}

// NewValidator builds a validator. embedder may be nil.
func NewValidator(embedder embedding.Embedder, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{embedder: embedder, logger: logger}
}

// Validate scores a drafter response against the prompt and policy. It is
// deterministic given its inputs and the embedding backend. Tool calls only
// matter for the tool short-circuit; turning high-risk calls into a rejection
// is the controller's concern.
func (v *Validator) Validate(ctx context.Context, prompt string, resp *provider.ChatResponse, level complexity.Level, p Policy, risk *toolrisk.Classifier) Verdict {
	signals := map[string]float64{}
	content := strings.TrimSpace(resp.Content)

	// Tool short-circuit: a response carrying tool calls passes without
	// scoring when every call is low/medium risk, whether or not it has text.
	if len(resp.ToolCalls) > 0 && (risk == nil || !risk.AnyForcing(resp.ToolCalls)) {
		if content == "" {
			return Verdict{Passed: true, Score: 1, Reason: ReasonToolOnly, Signals: signals}
		}
		return Verdict{Passed: true, Score: 1, Reason: ReasonOK, Signals: signals}
	}

	// Hard rejects.
	if content == "" {
		return Verdict{Passed: false, Score: 0, Reason: ReasonTooShort, Signals: signals}
	}
	if isRefusal(content) {
		return Verdict{Passed: false, Score: 0, Reason: ReasonRefusal, Signals: signals}
	}
	if p.MinLength > 0 && len(content) < p.MinLength {
		return Verdict{Passed: false, Score: 0, Reason: ReasonTooShort, Signals: signals}
	}

	heuristic := heuristicScore(content, level, p)
	confidence := confidenceScore(resp)
	signals["heuristic"] = heuristic
	signals["confidence"] = confidence

	semantic, hasSemantic := v.semanticScore(ctx, prompt, content, p)
	if hasSemantic {
		signals["semantic"] = semantic
	}

	score := aggregate(heuristic, confidence, semantic, hasSemantic)
	signals["aggregate"] = score

	threshold := p.EffectiveThreshold(level)
	signals["threshold"] = threshold

	if hasSemantic && semantic < p.SemanticThreshold {
		return Verdict{Passed: false, Score: score, Reason: ReasonSemanticMismatch, Signals: signals}
	}
	if score < threshold {
		reason := ReasonHeuristicLow
		if confidence < heuristic {
			reason = ReasonLowConfidence
		}
		return Verdict{Passed: false, Score: score, Reason: reason, Signals: signals}
	}
	return Verdict{Passed: true, Score: score, Reason: ReasonOK, Signals: signals}
}

func aggregate(heuristic, confidence, semantic float64, hasSemantic bool) float64 {
	if hasSemantic {
		return weightHeuristic*heuristic + weightConfidence*confidence + weightSemantic*semantic
	}
	norm := weightHeuristic + weightConfidence
	return (weightHeuristic*heuristic + weightConfidence*confidence) / norm
}

// semanticScore embeds prompt and response and returns their cosine
// similarity clipped to [0,1]. Embedding failures degrade gracefully: the
// term is omitted and logged.
func (v *Validator) semanticScore(ctx context.Context, prompt, content string, p Policy) (float64, bool) {
	if !p.UseSemanticValidation || v.embedder == nil {
		return 0, false
	}
	pv, err := v.embedder.Embed(ctx, prompt)
	if err != nil {
		v.logger.Warn("semantic validation skipped", slog.String("error", err.Error()))
		return 0, false
	}
	rv, err := v.embedder.Embed(ctx, content)
	if err != nil {
		v.logger.Warn("semantic validation skipped", slog.String("error", err.Error()))
		return 0, false
	}
	return clamp01(embedding.Cosine(pv, rv)), true
}

func isRefusal(content string) bool {
	head := strings.ToLower(content)
	if len(head) > refusalWindow {
		head = head[:refusalWindow]
	}
	for _, m := range refusalMarkers {
		if strings.Contains(head, m) {
			return true
		}
	}
	return false
}

// heuristicScore combines length adequacy, paragraph structure, direct-answer
// lexemes, and the hedging budget into [0,1].
func heuristicScore(content string, level complexity.Level, p Policy) float64 {
	expect := p.MinLength
	if expect <= 0 {
		expect = expectedLength[level]
		if expect == 0 {
			expect = expectedLength[complexity.Moderate]
		}
	}
	length := clamp01(float64(len(content)) / float64(expect))

	paragraphs := strings.Count(strings.TrimSpace(content), "\n\n") + 1
	structure := clamp01(float64(paragraphs) / 3)

	lower := strings.ToLower(content)
	direct := 0.0
	for _, m := range directMarkers {
		if strings.Contains(lower, m) {
			direct = 1
			break
		}
	}
	if direct == 0 && strings.ContainsAny(content, "0123456789") {
		direct = 1
	}

	hedges := 0
	for _, m := range hedgingMarkers {
		hedges += strings.Count(lower, m)
	}
	hedgePenalty := 0.0
	if hedges > 2 {
		hedgePenalty = clamp01(float64(hedges-2) / 4)
	}

	return clamp01(0.45*length + 0.15*structure + 0.25*direct + 0.15*(1-hedgePenalty))
}

// confidenceScore converts provider signals into [0,1]. Log-probs map through
// exp (mean token probability); a reasoning-token count maps through a
// saturating ramp. Without signals, the prior scales slightly with length.
func confidenceScore(resp *provider.ChatResponse) float64 {
	if resp.AvgLogProb != nil {
		return clamp01(math.Exp(*resp.AvgLogProb))
	}
	if resp.Usage.ReasoningTokens > 0 {
		return clamp01(0.5 + 0.4*math.Min(1, float64(resp.Usage.ReasoningTokens)/512))
	}
	words := len(strings.Fields(resp.Content))
	return clamp01(0.5 + 0.3*math.Min(1, float64(words)/80))
}

func clamp01(v float64) float64 { return math.Max(0, math.Min(1, v)) }
