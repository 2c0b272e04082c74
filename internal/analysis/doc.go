// Package analysis provides the semantic analysis collaborator. The client
// sends a batch of transcripts to an OpenAI-compatible chat completions
// endpoint and parses the model's JSON verdict.
package analysis
