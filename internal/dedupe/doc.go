// Package dedupe rejects duplicate webhook deliveries. A TTL cache keyed by
// provider and message id handles the common fast retries; the persisted
// message record backstops the cache across restarts.
package dedupe
