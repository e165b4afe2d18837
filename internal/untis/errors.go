package untis

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for this package. These allow errors.Is/As from
// callers; none of them are recovered inside the client.
var (
	// ErrAuthExpired means the API rejected the session mid-run (401).
	// The client does not retry; the caller may re-invoke the session
	// provider and fetch again.
	ErrAuthExpired = errors.New("session rejected by API")

	// ErrParse means a response did not match the expected schema.
	ErrParse = errors.New("malformed API payload")
)

// HTTPError reports a non-success response other than 401, with enough
// context (endpoint, status, window) for a human to act.
type HTTPError struct {
	Status   int
	Endpoint string
	Window   Window
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s (window %s..%s)",
		e.Status, e.Endpoint, e.Window.Start.Format(dateLayout), e.Window.End.Format(dateLayout))
}
