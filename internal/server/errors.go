// File: internal/server/errors.go
package server

import (
	"errors"
	"fmt"
)

var errMissingSessionID = errors.New("session_connect is missing a session_id")

func errExpectedSessionConnect(got string) error {
	return fmt.Errorf("expected session_connect as first frame, got %q", got)
}
