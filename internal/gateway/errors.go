package gateway

import "fmt"

// BusinessError is a gateway-level decline: the HTTP exchange succeeded but
// the response carried a non-zero errorCode. Never retried.
type BusinessError struct {
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

// HTTPError is a non-2xx response from the gateway. Not retried either: a
// definite HTTP status means the gateway saw the request, so re-sending risks
// a duplicate operation.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("gateway returned HTTP %d", e.StatusCode)
}
