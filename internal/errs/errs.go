// Package errs holds sentinel errors shared by packages that cannot import
// each other.
package errs

import (
	"errors"
	"fmt"
)

// ErrConfig marks a configuration problem that is fatal at startup: unknown
// calculator, strategy or policy type, missing scaling parameters.
var ErrConfig = errors.New("config error")

// Configf returns an error wrapping ErrConfig.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
