package gemini

import "google.golang.org/genai"

// promptData is passed to the prompt template.
type promptData struct {
	Input       string
	Hints       []string
	Examples    []string
	Constraints []string
	Target      string
	Tags        []string
	MaxVariants int
}

// ResponseSchema is the JSON document Gemini is asked to return.
type ResponseSchema struct {
	Variants  []VariantSchema `json:"variants"`
	Reasoning string          `json:"reasoning,omitempty"`
}

// VariantSchema is one candidate rewrite in the response.
type VariantSchema struct {
	Content   string  `json:"content"`
	Technique string  `json:"technique,omitempty"`
	Score     float64 `json:"score"`
}

// responseSchema describes ResponseSchema to the API.
func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"variants": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"content":   {Type: genai.TypeString},
						"technique": {Type: genai.TypeString},
						"score":     {Type: genai.TypeNumber},
					},
					Required: []string{"content", "score"},
				},
			},
			"reasoning": {Type: genai.TypeString},
		},
		Required: []string{"variants"},
	}
}

const defaultPromptTemplate = `You improve prompts. Rewrite the prompt below into {{.MaxVariants}} alternative versions that are clearer and more effective.
{{- if .Target}}
The rewritten prompts will be sent to: {{.Target}}.
{{- end}}
{{- range .Tags}}
{{.}}
{{- end}}
{{- if .Hints}}

Hints:
{{- range .Hints}}
- {{.}}
{{- end}}
{{- end}}
{{- if .Constraints}}

Constraints:
{{- range .Constraints}}
- {{.}}
{{- end}}
{{- end}}
{{- if .Examples}}

Examples of good prompts:
{{- range .Examples}}
- {{.}}
{{- end}}
{{- end}}

Prompt:
{{.Input}}

Return JSON with a "variants" array. Each variant has "content", "technique" (one or two words) and "score" (0 to 1, your confidence that it beats the original), plus a short "reasoning".`
