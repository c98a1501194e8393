// Package coordinator runs the polling loop for each purifier.
//
// A Poller owns one device endpoint. Its goroutine polls on a fixed
// interval, normalizes the status, computes the change-set and fans the
// result out to subscribers. Commands issued with Set are handed to the same
// goroutine, so at most one protocol exchange is in flight per endpoint.
//
// # Poll cycle
//
//	Idle ──timer──▶ Polling ──▶ Success ──▶ Idle (Interval)
//	                   │
//	                   └──────▶ Failed ──▶ Idle (Interval, or Backoff once
//	                                        FailureThreshold is reached)
//
// A DecryptError or SessionExhausted resets the session and retries once
// within the cycle. Timeouts and unreachable endpoints fail the cycle
// immediately. Once FailureThreshold consecutive cycles fail the endpoint is
// published as unavailable and polls back off exponentially up to
// BackoffMax; one success restores availability and the normal interval.
//
// # Subscribers
//
// Each subscriber has its own bounded queue and goroutine. A subscriber that
// falls behind loses updates; it never delays the poll loop.
//
// # Manager
//
// Manager is the registry of running pollers keyed by endpoint ID. It
// resolves device profiles at start, probing the device when the model is
// unknown, and starts or stops endpoints in parallel.
package coordinator
