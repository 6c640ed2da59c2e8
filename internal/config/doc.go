// Package config handles configuration loading, parsing, and validation
// from various sources (defaults, an optional config.yaml, and PRISM_
// environment variables). It provides type-safe access to the settings of
// the server, task queue, aggregator, coordinator, LLM worker and auth
// middleware while keeping configuration details separate from the
// components that use them.
package config
