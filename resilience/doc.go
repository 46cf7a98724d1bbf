// Package resilience retries transient failures with capped exponential
// backoff.
//
//	err := resilience.Do(ctx, resilience.Policy{Attempts: 5}, func(ctx context.Context) error {
//	    return client.Ping(ctx).Err()
//	})
package resilience
