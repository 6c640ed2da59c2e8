// Package worker contains the built-in specialist workers the coordinator
// dispatches to.
//
// The optimizer rewrites a prompt with a set of prompting techniques, the
// router picks the target model a prompt suits best, and the evaluator
// scores a prompt on several quality dimensions. All three are local
// heuristics. The LLM worker delegates to a generation.Generator and is
// only registered when a backend is configured.
package worker
