package backend

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/victorarias/c0lor-mem/internal/protocol"
)

const livenessAttemptTimeout = 2 * time.Second

// HealthPolicy bounds the readiness probe.
type HealthPolicy struct {
	MaxRetries int
	Interval   time.Duration
}

func (p HealthPolicy) normalized() HealthPolicy {
	if p.MaxRetries < 1 {
		p.MaxRetries = 1
	}
	if p.Interval <= 0 {
		p.Interval = 500 * time.Millisecond
	}
	return p
}

// Budget is the longest the probe waits between its first and last attempt.
func (p HealthPolicy) Budget() time.Duration {
	p = p.normalized()
	return time.Duration(p.MaxRetries-1) * p.Interval
}

// WaitForHealth polls the liveness endpoint until it answers 2xx or the
// attempt budget is spent. Refused connections and timeouts only mean "not
// yet". Cancelling ctx stops the loop between attempts.
func WaitForHealth(ctx context.Context, client *http.Client, info protocol.BackendInfo, policy HealthPolicy) bool {
	policy = policy.normalized()
	if client == nil {
		client = http.DefaultClient
	}

	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		if probeOnce(ctx, client, info) {
			return true
		}
		if attempt == policy.MaxRetries {
			break
		}
		timer := time.NewTimer(policy.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
	return false
}

func probeOnce(ctx context.Context, client *http.Client, info protocol.BackendInfo) bool {
	attemptCtx, cancel := context.WithTimeout(ctx, livenessAttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, info.BaseURL+protocol.HealthPath, nil)
	if err != nil {
		return false
	}
	req.Header.Set(protocol.TokenHeader, info.Token)

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
