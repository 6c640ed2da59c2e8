// Package generation defines the boundary between the coordination core and
// remote text-generation services such as Gemini. The Generator interface
// turns a request into candidate variants; implementations live under
// internal/platform and report failures with the errors declared here so
// callers can tell transient failures from permanent ones.
package generation
