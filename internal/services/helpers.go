package services

import (
	"context"
	"strings"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func normaliseDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}
