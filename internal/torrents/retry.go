package torrents

import (
	"context"
	"time"

	retry "github.com/avast/retry-go"

	"mamlarr/internal/services"
)

// RetryPolicy bounds how backend calls are re-attempted on transient failure.
type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration
	Jitter   time.Duration
}

// DefaultRetryPolicy matches the configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 2 * time.Second, Jitter: 500 * time.Millisecond}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts == 0 {
		p.Attempts = 1
	}
	if p.Delay <= 0 {
		p.Delay = time.Second
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// withRetry runs op under the policy, backing off between attempts. Permanent
// and validation failures abort immediately.
func withRetry(ctx context.Context, policy RetryPolicy, op func() error) error {
	policy = policy.normalized()
	return retry.Do(
		op,
		retry.Context(ctx),
		retry.Attempts(policy.Attempts),
		retry.Delay(policy.Delay),
		retry.MaxJitter(policy.Jitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.RetryIf(services.IsRetryable),
	)
}
