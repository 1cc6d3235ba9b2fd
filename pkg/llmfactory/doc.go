// Package llmfactory provides the factory and configuration for LLM model instantiation,
// with model selection by provider type or by model name.
package llmfactory
