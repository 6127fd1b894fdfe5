package errs

import "github.com/cockroachdb/errors"

// Error kinds used throughout the case service. Each kind is a reference
// error; constructors attach the kind with errors.Mark so that callers can
// classify failures with errors.Is without losing the descriptive message.
var (
	ErrValidation              = errors.New("validation failed")
	ErrNotFound                = errors.New("not found")
	ErrPreconditionUnsatisfied = errors.New("precondition unsatisfied")
	ErrConflict                = errors.New("conflict")
	ErrUnsupportedType         = errors.New("unsupported type")
	ErrDependencyFailed        = errors.New("dependency failed")
)

func Validationf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

func NotFoundf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

func Preconditionf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrPreconditionUnsatisfied)
}

func Conflictf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrConflict)
}

func UnsupportedTypef(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrUnsupportedType)
}

func DependencyFailedf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrDependencyFailed)
}

// Wrap keeps the original error's kind marks while adding context.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

func IsValidation(err error) bool   { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsPrecondition(err error) bool { return errors.Is(err, ErrPreconditionUnsatisfied) }
func IsConflict(err error) bool     { return errors.Is(err, ErrConflict) }
func IsUnsupportedType(err error) bool {
	return errors.Is(err, ErrUnsupportedType)
}
func IsDependencyFailed(err error) bool {
	return errors.Is(err, ErrDependencyFailed)
}
