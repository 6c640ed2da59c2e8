// Package gemini provides an implementation of the generation.Generator
// interface backed by Google's Gemini API.
//
// The Generator renders a prompt from a text/template (a built-in one, or a
// file named by llm.prompt_template_path), asks Gemini for a JSON document
// matching ResponseSchema, and converts the candidates into domain variants.
// Transient API failures are retried with exponential backoff and jitter;
// safety blocks and malformed responses are returned immediately.
package gemini
