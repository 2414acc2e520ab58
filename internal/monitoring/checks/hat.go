package checks

import (
	"context"
	"strings"
	"time"

	"github.com/hubofallthings/hatsync/internal/hat"
	"github.com/hubofallthings/hatsync/internal/monitoring"
)

// CredentialSource reports the domain and token a sync would use.
type CredentialSource func(ctx context.Context) (domain, token string, err error)

// HATCredentials reports degraded when no usable HAT token is available. It never calls the HAT.
func HATCredentials(source CredentialSource) monitoring.Check {
	return monitoring.NewCheck("hat", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if source == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "credentials not configured",
				Duration: time.Since(start),
			}
		}

		domain, token, err := source(ctx)
		if err != nil {
			return monitoring.ResultFromError("hat", err, time.Since(start))
		}
		if strings.TrimSpace(domain) == "" {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "no HAT domain; run hatsync login",
				Duration: time.Since(start),
			}
		}
		if strings.TrimSpace(token) == "" {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "no token for " + domain,
				Duration: time.Since(start),
			}
		}

		if info, err := hat.ParseToken(token); err == nil && info.Expired(start) {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "token for " + domain + " expired at " + info.ExpiresAt.UTC().Format(time.RFC3339),
				Duration: time.Since(start),
			}
		}

		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Details:  domain,
			Duration: time.Since(start),
		}
	})
}
