package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/phrazzld/prism-api/internal/domain"
)

// tagPattern matches one internal tag and a single trailing space.
var tagPattern = regexp.MustCompile(`\[\[internal:[^\]]*\]\]\s?`)

// Tag formats an internal tag.
func Tag(key, value string) string {
	return fmt.Sprintf("[[internal:%s=%s]]", key, value)
}

// Strip removes every internal tag from text. Text that carries no tag is
// returned unchanged, so Strip(Strip(s)) == Strip(s). Removal repeats until
// no tag is left, since deleting one tag can splice together another.
func Strip(text string) string {
	for tagPattern.MatchString(text) {
		text = tagPattern.ReplaceAllString(text, "")
	}
	return text
}

// VerifyClean reports whether text is free of internal tags.
func VerifyClean(text string) bool {
	return !tagPattern.MatchString(text)
}

// Intent keywords, checked in order. The first intent with a matching
// keyword wins.
var intents = []struct {
	name     string
	keywords []string
}{
	{"code", []string{"function", "code", "bug", "compile", "refactor", "api", "sql", "script"}},
	{"analysis", []string{"analyze", "analyse", "compare", "evaluate", "explain", "why"}},
	{"creative", []string{"story", "poem", "write", "draft", "slogan", "creative"}},
	{"extraction", []string{"extract", "list", "summarize", "summarise", "classify"}},
}

// Tagger derives internal tags from a request's input and context.
type Tagger struct {
	logger *slog.Logger
	static map[string]string
}

// NewTagger creates a Tagger. Static tags are attached to every request in
// addition to the derived ones.
func NewTagger(static map[string]string, logger *slog.Logger) *Tagger {
	if logger == nil {
		logger = slog.Default()
	}
	s := make(map[string]string, len(static))
	for k, v := range static {
		s[k] = v
	}
	return &Tagger{
		logger: logger.With("component", "enrich"),
		static: s,
	}
}

// Enrich returns a copy of req whose context carries internal tags. The
// caller's slices are never modified.
func (t *Tagger) Enrich(ctx context.Context, req domain.Request) domain.Request {
	out := req
	out.Context = req.Context.Clone()

	tags := map[string]string{
		"intent":     Classify(req.Input),
		"complexity": complexity(req.Input),
	}
	if req.Context.Target != "" {
		tags["target"] = req.Context.Target
	}
	if n := len(req.Context.Constraints); n > 0 {
		tags["constraints"] = fmt.Sprint(n)
	}
	for k, v := range t.static {
		tags[k] = v
	}

	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out.Context.Tags = append(out.Context.Tags, Tag(k, tags[k]))
	}

	t.logger.DebugContext(ctx, "request enriched",
		"intent", tags["intent"],
		"complexity", tags["complexity"],
		"tag_count", len(out.Context.Tags))

	return out
}

// Strip implements the coordinator's enricher contract.
func (t *Tagger) Strip(text string) string { return Strip(text) }

// VerifyClean implements the coordinator's enricher contract.
func (t *Tagger) VerifyClean(text string) bool { return VerifyClean(text) }

// Classify guesses the intent of an input from keywords. Inputs that match
// nothing are "general".
func Classify(input string) string {
	lower := strings.ToLower(input)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		seen[f] = struct{}{}
	}
	for _, intent := range intents {
		for _, kw := range intent.keywords {
			if _, ok := seen[kw]; ok {
				return intent.name
			}
		}
	}
	return "general"
}

func complexity(input string) string {
	switch tokens := domain.EstimateTokens(input); {
	case tokens < 20:
		return "low"
	case tokens <= 150:
		return "medium"
	default:
		return "high"
	}
}
