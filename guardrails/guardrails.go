// Package guardrails scans prompt text for disallowed content and personally
// identifying data. Both passes are pure over text: detection never modifies
// the input, and redaction happens only when asked for. Rules live in data
// tables so they can be audited and overridden without code changes.
package guardrails

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Kind is a finding category.
type Kind string

const (
	KindViolence Kind = "violence"
	KindHate     Kind = "hate"
	KindSelfHarm Kind = "selfHarm"
	KindSexual   Kind = "sexual"
	KindIllegal  Kind = "illegal"
	KindPII      Kind = "pii"
)

// Finding is one guardrail hit. Span is a byte range [Start, End) into the
// scanned text.
type Finding struct {
	Kind    Kind   `json:"kind"`
	Subtype string `json:"subtype,omitempty"` // e.g. "email", "ssn"
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

// Result is the outcome of a Check pass.
type Result struct {
	IsSafe   bool      `json:"is_safe"`
	Findings []Finding `json:"findings,omitempty"`
}

// Settings selects which passes run.
type Settings struct {
	ContentModeration bool
	PIIDetection      bool
}

// moderation keyword families per category. A hit marks the text unsafe with
// the listed category; no calibrated score is produced.
var moderationTerms = map[Kind][]string{
	KindViolence: {"kill them", "how to make a bomb", "build a weapon", "hurt someone", "mass shooting"},
	KindHate:     {"racial slur", "ethnic cleansing", "gas the", "subhuman"},
	KindSelfHarm: {"kill myself", "end my life", "how to self-harm", "suicide method"},
	KindSexual:   {"child sexual", "csam", "minor sexual"},
	KindIllegal:  {"launder money", "buy stolen", "synthesize meth", "hire a hitman", "credit card dump"},
}

// piiPatterns are the recognised PII shapes. Order matters for overlapping
// matches: earlier entries claim their spans first.
var piiPatterns = []struct {
	subtype string
	re      *regexp.Regexp
	verify  func(match string) bool
}{
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), nil},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), nil},
	{"creditCard", regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`), luhnValid},
	{"phone", regexp.MustCompile(`(?:\+\d{1,3}[ \-.]?)?\(?\d{3}\)?[ \-.]\d{3}[ \-.]\d{4}\b`), nil},
	{"ip", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), validIPv4},
}

// Checker runs the moderation and PII passes.
type Checker struct {
	defaults Settings
}

// New builds a checker with default settings applied when a call passes nil.
func New(defaults Settings) *Checker {
	return &Checker{defaults: defaults}
}

// Check scans text and reports findings without modifying anything.
func (c *Checker) Check(text string, s *Settings) Result {
	settings := c.resolve(s)
	var findings []Finding
	if settings.ContentModeration {
		findings = append(findings, moderationFindings(text)...)
	}
	if settings.PIIDetection {
		findings = append(findings, piiFindings(text)...)
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].Start < findings[j].Start })
	return Result{IsSafe: !hasModeration(findings), Findings: findings}
}

// Redact replaces each PII span with a "[REDACTED:<subtype>]" label, leaving
// all other bytes untouched. Redaction is idempotent: labels never re-match.
func (c *Checker) Redact(text string, s *Settings) (string, []Finding) {
	settings := c.resolve(s)
	if !settings.PIIDetection {
		return text, nil
	}
	findings := piiFindings(text)
	if len(findings) == 0 {
		return text, nil
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].Start < findings[j].Start })

	var b strings.Builder
	last := 0
	for _, f := range findings {
		if f.Start < last {
			continue // overlapping span already consumed
		}
		b.WriteString(text[last:f.Start])
		fmt.Fprintf(&b, "[REDACTED:%s]", f.Subtype)
		last = f.End
	}
	b.WriteString(text[last:])
	return b.String(), findings
}

func (c *Checker) resolve(s *Settings) Settings {
	if s != nil {
		return *s
	}
	return c.defaults
}

func hasModeration(findings []Finding) bool {
	for _, f := range findings {
		if f.Kind != KindPII {
			return true
		}
	}
	return false
}

func moderationFindings(text string) []Finding {
	lower := strings.ToLower(text)
	var findings []Finding
	for kind, terms := range moderationTerms {
		for _, term := range terms {
			idx := strings.Index(lower, term)
			if idx < 0 {
				continue
			}
			findings = append(findings, Finding{Kind: kind, Start: idx, End: idx + len(term)})
		}
	}
	return findings
}

func piiFindings(text string) []Finding {
	var findings []Finding
	claimed := make([][2]int, 0, 4)
	for _, p := range piiPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if p.verify != nil && !p.verify(text[loc[0]:loc[1]]) {
				continue
			}
			if overlaps(claimed, loc[0], loc[1]) {
				continue
			}
			claimed = append(claimed, [2]int{loc[0], loc[1]})
			findings = append(findings, Finding{Kind: KindPII, Subtype: p.subtype, Start: loc[0], End: loc[1]})
		}
	}
	return findings
}

func overlaps(claimed [][2]int, start, end int) bool {
	for _, c := range claimed {
		if start < c[1] && end > c[0] {
			return true
		}
	}
	return false
}

// luhnValid reports whether the digits of match pass the Luhn checksum.
func luhnValid(match string) bool {
	var digits []int
	for _, r := range match {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func validIPv4(match string) bool {
	for _, part := range strings.Split(match, ".") {
		if len(part) > 1 && part[0] == '0' {
			return false
		}
		n := 0
		for _, r := range part {
			n = n*10 + int(r-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}
