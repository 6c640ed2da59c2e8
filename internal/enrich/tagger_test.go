package enrich

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/phrazzld/prism-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTagger(static map[string]string) *Tagger {
	return NewTagger(static, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTagger_Enrich(t *testing.T) {
	tagger := newTestTagger(map[string]string{"tenant": "acme"})

	req := domain.Request{
		Input: "Fix the bug in this function",
		Context: domain.Context{
			Target:      "gpt",
			Constraints: []string{"keep it short"},
		},
	}

	out := tagger.Enrich(context.Background(), req)

	assert.Equal(t, []string{
		"[[internal:complexity=low]]",
		"[[internal:constraints=1]]",
		"[[internal:intent=code]]",
		"[[internal:target=gpt]]",
		"[[internal:tenant=acme]]",
	}, out.Context.Tags)
	assert.Equal(t, req.Input, out.Input)
	assert.Equal(t, req.Context.Constraints, out.Context.Constraints)
	assert.Nil(t, req.Context.Tags, "caller's context must not be modified")
}

func TestTagger_EnrichKeepsExistingTags(t *testing.T) {
	tagger := newTestTagger(nil)

	existing := []string{Tag("source", "api")}
	req := domain.Request{Input: "hello", Context: domain.Context{Tags: existing}}

	out := tagger.Enrich(context.Background(), req)

	require.Len(t, out.Context.Tags, 3)
	assert.Equal(t, existing[0], out.Context.Tags[0])
	assert.Len(t, existing, 1)
}

func TestStrip(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"clean text", "Nothing to see here.", "Nothing to see here."},
		{"empty", "", ""},
		{"single tag", "Answer [[internal:intent=code]] here", "Answer here"},
		{"tag at end", "Done [[internal:target=gpt]]", "Done "},
		{"several tags", "[[internal:a=1]] [[internal:b=2]] text", "text"},
		{"spliced tag", "[[inte[[internal:x=1]]rnal:y=2]] ok", "ok"},
		{"unterminated marker", "literal [[internal: without end", "literal [[internal: without end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Strip(tt.input))
		})
	}
}

func TestStrip_Idempotent(t *testing.T) {
	inputs := []string{
		"plain text",
		"with [[internal:intent=code]] tag",
		"[[inte[[internal:x=1]]rnal:y=2]] spliced",
		"  whitespace  preserved\n",
	}
	for _, in := range inputs {
		once := Strip(in)
		assert.Equal(t, once, Strip(once), "input %q", in)
		assert.True(t, VerifyClean(once), "input %q", in)
	}
}

func TestVerifyClean(t *testing.T) {
	assert.True(t, VerifyClean("all good"))
	assert.False(t, VerifyClean("leak [[internal:intent=code]]"))

	tagger := newTestTagger(nil)
	assert.Equal(t, "x ", tagger.Strip("x [[internal:a=b]]"))
	assert.False(t, tagger.VerifyClean(Tag("k", "v")))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Refactor this function to be faster", "code"},
		{"Explain why the sky is blue", "analysis"},
		{"Write a poem about autumn", "creative"},
		{"Summarize the meeting notes", "extraction"},
		{"Hello there", "general"},
		{"", "general"},
	}
	for _, tt := range tests {
		t.Run(tt.want+"/"+tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.input))
		})
	}
}

func TestComplexity(t *testing.T) {
	assert.Equal(t, "low", complexity("short"))
	assert.Equal(t, "medium", complexity(string(make([]byte, 200))))
	assert.Equal(t, "high", complexity(string(make([]byte, 1000))))
}
