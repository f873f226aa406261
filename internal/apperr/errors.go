package apperr

import (
	"errors"
	"fmt"
)

// Error classes the HTTP layer maps onto status codes. Handlers match with
// errors.Is, so services wrap these with %w and a reason.
var (
	ErrValidation     = errors.New("bad request")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrWindowExpired  = errors.New("window expired")
	ErrAlreadyDeleted = errors.New("already deleted")
	ErrInternal       = errors.New("internal error")
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Internalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInternal, fmt.Sprintf(format, args...))
}
