package hafas

import (
	"errors"
	"fmt"
	"strings"
)

// ErrQuotaExceeded signals that the provider rejected a request
// because the hourly quota is spent. Callers must not retry; polling
// should pause until the top of the next hour.
var ErrQuotaExceeded = errors.New("api quota exceeded")

// HTTPError is returned for non-2xx responses that are not quota
// related. For retry purposes it is treated like a network failure.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("status %d", e.StatusCode)
}

// providerError maps an error code embedded in an otherwise valid
// JSON response to our taxonomy. HAFAS deployments report quota
// exhaustion with API_QUOTA style codes.
func providerError(code, text string) error {
	if code == "" {
		return nil
	}
	if strings.HasPrefix(code, "API_QUOTA") || strings.Contains(strings.ToLower(text), "quota") {
		return fmt.Errorf("%s: %w", code, ErrQuotaExceeded)
	}
	return fmt.Errorf("provider error %s: %s", code, text)
}
