package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// newReference generates a short human-readable transaction reference.
func newReference() string {
	return "TXN-" + strings.ToUpper(uuid.NewString()[:8])
}

func trimPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
