// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "errors"

// Error taxonomy. Components wrap these with fmt.Errorf("...: %w", ...) and
// callers test with errors.Is.
var (
	// ErrExtraction means no usable text was obtained for a page or document.
	ErrExtraction = errors.New("extraction failure")

	// ErrStructureEngine means the engine was unreachable, timed out or
	// returned a malformed response.
	ErrStructureEngine = errors.New("structure engine failure")

	// ErrLLMParse means a model response could not be parsed after every
	// repair attempt. It is scoped to one chunk.
	ErrLLMParse = errors.New("llm parse failure")

	// ErrConfiguration means a required external tool or engine is missing
	// or disabled.
	ErrConfiguration = errors.New("configuration error")
)
