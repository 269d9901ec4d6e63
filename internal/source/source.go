// Package source holds what mail sources share: the authentication
// error the poller reacts to.
package source

import (
	"errors"
	"fmt"
)

// AuthError indicates that logging in to a mail server failed. The
// poller stops retrying a source that returns it until reconfigured.
type AuthError struct {
	Server  string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Server, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
