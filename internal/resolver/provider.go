package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/haasonsaas/ablate/pkg/models"
)

// ErrNoResult is returned by a provider that answered but had no document for the URL.
var ErrNoResult = errors.New("provider returned no result")

// Provider fetches the content behind a single URL.
type Provider interface {
	// Resolve returns the document for url. A nil document with a nil error
	// is treated like ErrNoResult.
	Resolve(ctx context.Context, url string) (*models.Document, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}

// StatusError reports a non-success HTTP response from a provider.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.Status, e.Body)
}

// Temporary reports whether repeating the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// retryableFetch decides whether a failed fetch is worth another attempt:
// throttling, server errors and network failures are; everything else is not.
func retryableFetch(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
