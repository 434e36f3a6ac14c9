// Package openai provides an llm client for OpenAI-compatible chat
// completion endpoints.
package openai

import "github.com/user/parley/pkg/llm"

// Compile-time interface compliance checks.
var _ llm.Transport = (*Client)(nil)
var _ llm.Completer = (*Client)(nil)
