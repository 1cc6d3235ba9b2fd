// Package llms defines the model-neutral message, tool and option types
// used to talk to a chat model with function calling.
//
// Provider implementations live in subpackages, currently googleai.
package llms
