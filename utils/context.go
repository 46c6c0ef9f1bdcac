package utils

import (
	"context"
	"time"
)

const (
	// DefaultTimeout bounds store and index calls made by API handlers.
	DefaultTimeout = 10 * time.Second

	// LongTimeout is for uploads, deletes and exports.
	LongTimeout = 60 * time.Second
)

// WithTimeout creates a context with default timeout
func WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultTimeout)
}

// WithLongTimeout creates a context with long timeout for operations that may take longer
func WithLongTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, LongTimeout)
}
