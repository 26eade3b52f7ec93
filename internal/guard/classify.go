package guard

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Topic is a named keyword set.
type Topic struct {
	Name     string
	Keywords []string
}

type compiledTopic struct {
	name string
	re   *regexp.Regexp
}

// ClassificationStage rejects denied topics as OFF_TOPIC. When allowed
// topics are configured, text must match at least one of them; each
// matching allowed topic adds a "topic:<name>" hint.
type ClassificationStage struct {
	order   int
	denied  []compiledTopic
	allowed []compiledTopic
}

func NewClassificationStage(order int, denied, allowed []Topic) *ClassificationStage {
	return &ClassificationStage{
		order:   order,
		denied:  compileTopics(denied),
		allowed: compileTopics(allowed),
	}
}

func compileTopics(topics []Topic) []compiledTopic {
	out := make([]compiledTopic, 0, len(topics))
	for _, t := range topics {
		var quoted []string
		for _, kw := range t.Keywords {
			if kw = strings.TrimSpace(kw); kw != "" {
				quoted = append(quoted, regexp.QuoteMeta(kw))
			}
		}
		if len(quoted) == 0 {
			continue
		}
		out = append(out, compiledTopic{
			name: t.Name,
			re:   regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`),
		})
	}
	return out
}

func (s *ClassificationStage) Name() string  { return "Classification" }
func (s *ClassificationStage) Order() int    { return s.order }
func (s *ClassificationStage) Enabled() bool { return len(s.denied) > 0 || len(s.allowed) > 0 }

func (s *ClassificationStage) Check(_ context.Context, cmd Command) (Result, error) {
	text := normalize(cmd.Text)

	for _, t := range s.denied {
		if t.re.MatchString(text) {
			return reject(OffTopic, fmt.Sprintf("topic %q is not supported", t.name)), nil
		}
	}
	if len(s.allowed) == 0 {
		return Allowed{}, nil
	}

	var hints []string
	for _, t := range s.allowed {
		if t.re.MatchString(text) {
			hints = append(hints, "topic:"+t.name)
		}
	}
	if len(hints) == 0 {
		return reject(OffTopic, "request does not match any supported topic"), nil
	}
	return Allowed{Hints: hints}, nil
}
