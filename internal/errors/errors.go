// Package errors defines the domain error taxonomy shared by the
// settlement services. Handlers map these onto HTTP statuses; raw
// internal error text is never exposed to callers.
package errors

import "fmt"

// DomainError is a structured failure with a stable machine-readable code.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is makes errors.Is match on the code, so wrapped copies carrying extra
// context still compare equal to the sentinel values below.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

// WithDetail returns a copy with extra human-readable context appended.
func (e *DomainError) WithDetail(format string, args ...interface{}) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message + ": " + fmt.Sprintf(format, args...),
	}
}
