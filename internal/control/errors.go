package control

import "fmt"

// ControlError is any failure to drive the remote replay endpoint: non-2xx
// responses carry the HTTP status in Code, transport failures and timeouts
// use Code 0. Callers own the retry policy; this package never retries.
type ControlError struct {
	Code    int
	Message string
}

func (e *ControlError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("control endpoint unreachable: %s", e.Message)
	}
	return fmt.Sprintf("control endpoint returned %d: %s", e.Code, e.Message)
}
