// Package enrich builds the per-call context workers receive and keeps the
// internal parts of that context out of anything a user sees.
//
// The Tagger classifies an input and attaches internal tags of the form
// [[internal:key=value]] to the request context. Workers may read and even
// echo those tags, so every worker result is passed back through Strip, and
// VerifyClean confirms that no tag survived.
//
// The package also redacts sensitive values (credentials, keys, tokens,
// file paths) from error messages before they are logged.
package enrich
