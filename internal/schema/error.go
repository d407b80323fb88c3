package schema

import (
	"fmt"
	"time"
)

// APIError is a protocol-level error delivered by the transport. Code is the
// broker-defined error code; ID is the request-id hint the broker attaches
// when the error relates to a specific request or order. Both are optional:
// raw transport faults carry neither.
type APIError struct {
	ID           *int
	Code         *int
	Message      string
	TimestampUTC time.Time
}

func (e APIError) String() string {
	id := "n/a"
	if e.ID != nil {
		id = fmt.Sprintf("%d", *e.ID)
	}
	code := "n/a"
	if e.Code != nil {
		code = fmt.Sprintf("%d", *e.Code)
	}
	return fmt.Sprintf("id=%s code=%s msg=%s", id, code, e.Message)
}

// NewAPIError builds an APIError with both hints set, stamped now.
func NewAPIError(id, code int, message string) APIError {
	return APIError{
		ID:           &id,
		Code:         &code,
		Message:      message,
		TimestampUTC: time.Now().UTC(),
	}
}
