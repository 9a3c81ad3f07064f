package fetch

import "fmt"

// Kind classifies a fetch failure for the scheduler's retry policy.
type Kind string

const (
	// KindTransient covers timeouts, 5xx responses, and aborted navigations.
	KindTransient Kind = "transient"
	// KindPermanent covers 4xx (except 429) and DNS failures.
	KindPermanent Kind = "permanent"
	// KindBlocked marks a detected anti-bot challenge page.
	KindBlocked Kind = "blocked"
)

// Error is a typed fetch failure.
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure should be retried within the
// fetcher's own budget. Blocked pages back off like transient failures.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindBlocked
}
