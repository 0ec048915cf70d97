// Package generator produces MCP server file bundles.
//
// Two strategies exist. CommandGenerator runs an external code generator
// against an API description URL and collects the files it writes.
// LLMGenerator asks a language model for a JSON object mapping file paths
// to contents. Router selects between them by input kind.
package generator
