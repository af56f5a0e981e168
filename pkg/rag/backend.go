// Package rag retrieves knowledge-base context for a turn before the prompt
// is sent to the model.
package rag

import (
	"context"
	"errors"
	"strings"

	"vtagent/pkg/memory"
)

// ErrInvalidQuery is returned by backends for blank query text.
var ErrInvalidQuery = errors.New("query text must not be blank")

// Backend is a retrieval knowledge store.
type Backend interface {
	// Initialize loads or indexes the corpus. It must be called once before Query.
	Initialize(ctx context.Context) error

	// Query returns the context relevant to text. History carries recent
	// user/assistant turns and may be nil.
	Query(ctx context.Context, text string, history []memory.Message) (string, error)

	// CheckHealth reports whether the backend can serve queries right now.
	CheckHealth(ctx context.Context) bool
}

// NormalizeQuery trims text and collapses internal whitespace runs.
func NormalizeQuery(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
