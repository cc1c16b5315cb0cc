// Package llms provides the provider-neutral chat model contract used by the
// conversation loop: messages with text, tool-call and tool-result parts,
// tool descriptors carrying JSON schemas, and the Model interface
// implemented by the provider subpackages.
package llms
