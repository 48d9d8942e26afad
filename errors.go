package paradox

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection means the socket is unusable. Reconnect.
	ErrConnection = errors.New("connection error")

	// ErrAuthentication means one of the login steps was rejected. The
	// session is dead, do not retry on the same socket.
	ErrAuthentication = errors.New("authentication failed")

	// ErrTimeout means a single receive exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrMalformedResponse means the panel answered with bytes we could not
	// make sense of.
	ErrMalformedResponse = errors.New("malformed response")
)

var (
	ErrInvalidPassword  = fmt.Errorf("%w: invalid password", ErrAuthentication)
	ErrModuleBusy       = fmt.Errorf("%w: ip150 module busy", ErrAuthentication)
	ErrAlreadyConnected = fmt.Errorf("%w: user already connected", ErrAuthentication)
	ErrNoResponse       = fmt.Errorf("%w: no response from panel", ErrTimeout)
)

// IsSessionFatal reports whether err requires a new connection and login.
func IsSessionFatal(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrAuthentication)
}
