package guard

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// InjectionPattern is a named regex indicating a prompt injection attempt.
type InjectionPattern struct {
	Name  string
	Regex *regexp.Regexp
}

// DefaultInjectionPatterns returns the built-in injection signatures.
func DefaultInjectionPatterns() []InjectionPattern {
	return []InjectionPattern{
		{Name: "ignore_instructions", Regex: regexp.MustCompile(`(?i)\b(?:ignore|disregard|forget|override)\b.{0,40}\b(?:previous|prior|above|earlier|all|any)\b.{0,40}\b(?:instructions?|prompts?|rules?|directions?|guidelines?)\b`)},
		{Name: "system_prompt_leak", Regex: regexp.MustCompile(`(?i)\b(?:reveal|show|print|repeat|output|leak|dump)\b.{0,40}\b(?:system|hidden|initial|original)\s+(?:prompt|instructions?|message)\b`)},
		{Name: "role_override", Regex: regexp.MustCompile(`(?i)\b(?:you\s+are\s+now|from\s+now\s+on\s+you\s+are|pretend\s+(?:to\s+be|you\s+are))\b.{0,40}\b(?:unrestricted|unfiltered|jailbroken|dan|evil|without\s+(?:rules|restrictions|limits))\b`)},
		{Name: "mode_switch", Regex: regexp.MustCompile(`(?i)\b(?:enable|enter|activate|switch\s+to)\b.{0,20}\b(?:developer|debug|god|jailbreak|dan)\s+mode\b`)},
		{Name: "chat_template_tokens", Regex: regexp.MustCompile(`(?i)(?:<\|im_start\|>|<\|im_end\|>|<\|system\|>|\[/?INST\]|<<SYS>>|###\s*system\s*:)`)},
	}
}

// invisible strips zero-width and bidi control characters used to split
// trigger words.
var invisible = strings.NewReplacer(
	"\u200b", "", "\u200c", "", "\u200d", "", "\u2060", "", "\ufeff", "",
	"\u202a", "", "\u202b", "", "\u202c", "", "\u202d", "", "\u202e", "",
)

// InjectionStage matches normalized text against injection patterns. High
// entropy tokens produce a hint rather than a rejection.
type InjectionStage struct {
	order            int
	patterns         []InjectionPattern
	entropyThreshold float64
	minTokenLength   int
}

type InjectionOption func(*InjectionStage)

// WithInjectionPatterns replaces the default patterns.
func WithInjectionPatterns(patterns []InjectionPattern) InjectionOption {
	return func(s *InjectionStage) { s.patterns = patterns }
}

// WithEntropyThreshold sets the Shannon entropy threshold for the
// high-entropy hint. Zero disables it.
func WithEntropyThreshold(threshold float64) InjectionOption {
	return func(s *InjectionStage) { s.entropyThreshold = threshold }
}

func NewInjectionStage(order int, opts ...InjectionOption) *InjectionStage {
	s := &InjectionStage{
		order:            order,
		patterns:         DefaultInjectionPatterns(),
		entropyThreshold: 4.5,
		minTokenLength:   20,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InjectionStage) Name() string  { return "InjectionDetection" }
func (s *InjectionStage) Order() int    { return s.order }
func (s *InjectionStage) Enabled() bool { return true }

func (s *InjectionStage) Check(_ context.Context, cmd Command) (Result, error) {
	text := normalize(cmd.Text)

	for _, p := range s.patterns {
		if p.Regex.MatchString(text) {
			return reject(PromptInjection, fmt.Sprintf("potential prompt injection detected: %s", p.Name)), nil
		}
	}

	var hints []string
	if s.entropyThreshold > 0 {
		for _, token := range strings.Fields(text) {
			if len(token) >= s.minTokenLength && shannonEntropy(token) >= s.entropyThreshold {
				hints = append(hints, "injection:high_entropy_token")
				break
			}
		}
	}
	return Allowed{Hints: hints}, nil
}

// normalize folds compatibility forms (full-width letters, ligatures) and
// drops invisible characters before matching.
func normalize(text string) string {
	return invisible.Replace(norm.NFKC.String(text))
}

// shannonEntropy calculates Shannon entropy of a string in bits per character.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]float64)
	var length float64
	for _, c := range s {
		freq[c]++
		length++
	}

	entropy := 0.0
	for _, count := range freq {
		p := count / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}
