// Package llm wraps the chat-completion API used for semantic enrichment.
//
// The client issues JSON-only prompts built from an entry's normalized text
// and decodes the model's summary, display title, tags, and classification
// labels. Transport failures are classified into retryable and terminal
// GatewayError values so the semantic worker can apply its bounded retry
// policy without inspecting HTTP details.
package llm
