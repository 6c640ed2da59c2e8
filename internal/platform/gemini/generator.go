package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/phrazzld/prism-api/internal/config"
	"github.com/phrazzld/prism-api/internal/domain"
	"github.com/phrazzld/prism-api/internal/generation"
	"google.golang.org/genai"
)

const (
	defaultMaxRetries  = 3
	defaultBaseDelay   = 2 * time.Second
	defaultMaxVariants = 3
	temperature        = float32(0.7)
)

// contentGenerator is the subset of the genai client the Generator uses.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Generator implements generation.Generator using the Gemini API.
type Generator struct {
	logger         *slog.Logger
	config         config.LLMConfig
	promptTemplate *template.Template
	client         contentGenerator
	model          string

	// wait pauses between retries; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error

	rngMu sync.Mutex
	rng   *rand.Rand
}

var _ generation.Generator = (*Generator)(nil)

// NewGenerator creates a Generator with a live Gemini client.
func NewGenerator(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Generator, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	return newGenerator(logger, cfg, client.Models)
}

// newGenerator wires a Generator around any contentGenerator.
func newGenerator(logger *slog.Logger, cfg config.LLMConfig, client contentGenerator) (*Generator, error) {
	if logger == nil {
		return nil, ErrNilLogger
	}
	if client == nil {
		return nil, fmt.Errorf("%w: client cannot be nil", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	tmpl, err := loadTemplate(cfg.PromptTemplatePath)
	if err != nil {
		return nil, err
	}

	return &Generator{
		logger:         logger.With("component", "gemini"),
		config:         cfg,
		promptTemplate: tmpl,
		client:         client,
		model:          cfg.ModelName,
		wait:           sleepContext,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func loadTemplate(path string) (*template.Template, error) {
	text := defaultPromptTemplate
	name := "default"
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read prompt template: %v", generation.ErrInvalidConfig, err)
		}
		text = string(content)
		name = path
	}

	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v", generation.ErrInvalidConfig, err)
	}
	return tmpl, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GenerateVariants implements generation.Generator.
func (g *Generator) GenerateVariants(ctx context.Context, req domain.Request) (*generation.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	prompt, err := g.createPrompt(ctx, req)
	if err != nil {
		return nil, err
	}

	parsed, usage, err := g.callWithRetry(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return g.parseResponse(ctx, parsed, usage, prompt, req.Context.Target)
}

// createPrompt renders the prompt template for req.
func (g *Generator) createPrompt(ctx context.Context, req domain.Request) (string, error) {
	maxVariants := req.Options.MaxVariants
	if maxVariants <= 0 {
		maxVariants = defaultMaxVariants
	}

	data := promptData{
		Input:       req.Input,
		Hints:       req.Context.Hints,
		Examples:    req.Context.Examples,
		Constraints: req.Context.Constraints,
		Target:      req.Context.Target,
		Tags:        req.Context.Tags,
		MaxVariants: maxVariants,
	}

	var buf bytes.Buffer
	if err := g.promptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}

	prompt := buf.String()
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	g.logger.DebugContext(ctx, "prompt generated",
		"input_length", len(req.Input),
		"prompt_length", len(prompt),
		"template_name", g.promptTemplate.Name())

	return prompt, nil
}

func (g *Generator) jitter() float64 {
	g.rngMu.Lock()
	defer g.rngMu.Unlock()
	return 0.5 + g.rng.Float64()*0.5
}

// callWithRetry calls Gemini, retrying transient failures with exponential
// backoff and jitter. Safety blocks and malformed responses are permanent.
func (g *Generator) callWithRetry(
	ctx context.Context,
	prompt string,
) (*ResponseSchema, *genai.GenerateContentResponseUsageMetadata, error) {
	maxRetries := g.config.MaxRetries
	if maxRetries < 0 {
		g.logger.WarnContext(ctx, "invalid max retries value, using default", "max_retries", defaultMaxRetries)
		maxRetries = defaultMaxRetries
	}
	baseDelay := time.Duration(g.config.RetryDelaySeconds) * time.Second
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	temp := temperature
	genConfig := &genai.GenerateContentConfig{
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(),
	}
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}

	for attempt := 0; ; attempt++ {
		attemptNum := attempt + 1
		g.logger.InfoContext(ctx, "making Gemini API call",
			"attempt", attemptNum,
			"max_attempts", maxRetries+1)

		resp, err := g.client.GenerateContent(ctx, g.model, contents, genConfig)
		var parsed *ResponseSchema
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, fmt.Errorf("%w: %v", generation.ErrTransientFailure, ctx.Err())
			}
			err = fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
		} else {
			parsed, err = decodeResponse(resp)
		}

		if err == nil {
			g.logger.InfoContext(ctx, "Gemini API call successful", "attempt", attemptNum)
			return parsed, resp.UsageMetadata, nil
		}

		g.logger.ErrorContext(ctx, "Gemini API call failed",
			"attempt", attemptNum,
			"error", err)

		if !generation.IsRetryable(err) {
			return nil, nil, err
		}
		if attempt >= maxRetries {
			return nil, nil, fmt.Errorf("%w: exceeded maximum retry attempts (%d)",
				generation.ErrTransientFailure, maxRetries)
		}

		// delay = baseDelay * 2^attempt * (0.5 + rand(0, 0.5))
		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt)) * g.jitter())
		g.logger.InfoContext(ctx, "retrying after delay",
			"attempt", attemptNum,
			"delay", delay)

		if err := g.wait(ctx, delay); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
		}
	}
}

// decodeResponse validates an API response and parses its JSON body.
func decodeResponse(resp *genai.GenerateContentResponse) (*ResponseSchema, error) {
	switch {
	case resp == nil:
		return nil, fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	case resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "":
		return nil, fmt.Errorf("%w: prompt blocked: %s", generation.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	case len(resp.Candidates) == 0:
		return nil, fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	case resp.Candidates[0].FinishReason == genai.FinishReasonSafety:
		return nil, fmt.Errorf("%w: content blocked by safety filters", generation.ErrContentBlocked)
	case resp.Candidates[0].Content == nil:
		return nil, fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}

	var parsed ResponseSchema
	if err := json.Unmarshal([]byte(text.String()), &parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v", generation.ErrInvalidResponse, err)
	}
	return &parsed, nil
}

// parseResponse converts the parsed document into a generation.Response.
func (g *Generator) parseResponse(
	ctx context.Context,
	parsed *ResponseSchema,
	usage *genai.GenerateContentResponseUsageMetadata,
	prompt string,
	target string,
) (*generation.Response, error) {
	out := &generation.Response{Reasoning: strings.TrimSpace(parsed.Reasoning)}
	for i, v := range parsed.Variants {
		content := strings.TrimSpace(v.Content)
		if content == "" {
			g.logger.WarnContext(ctx, "skipping empty variant", "index", i)
			continue
		}
		technique := v.Technique
		if technique == "" {
			technique = "llm"
		}
		out.Variants = append(out.Variants, domain.Variant{
			Content:   content,
			Technique: technique,
			Score:     math.Max(0, math.Min(1, v.Score)),
			Target:    target,
		})
	}
	if len(out.Variants) == 0 {
		return nil, fmt.Errorf("%w: no variants in response", generation.ErrInvalidResponse)
	}

	if usage != nil {
		out.InputTokens = int(usage.PromptTokenCount)
		out.OutputTokens = int(usage.CandidatesTokenCount)
	}
	if out.InputTokens == 0 {
		out.InputTokens = domain.EstimateTokens(prompt)
	}
	if out.OutputTokens == 0 {
		for _, v := range out.Variants {
			out.OutputTokens += domain.EstimateTokens(v.Content)
		}
	}

	g.logger.InfoContext(ctx, "parsed Gemini response",
		"variant_count", len(out.Variants),
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens)

	return out, nil
}
