package shadeauto

import (
	"errors"
	"fmt"
)

// Error kinds reported by a Client. Wrapped errors keep the underlying
// cause; callers classify with errors.Is.
var (
	// ErrUnreachable covers transport failures and timeouts.
	ErrUnreachable = errors.New("hub unreachable")
	// ErrProtocol covers responses that cannot be parsed as the expected shape.
	ErrProtocol = errors.New("hub protocol error")
	// ErrNotFound means the hub no longer recognizes the shade.
	ErrNotFound = errors.New("shade not found")
	// ErrRejected means the command parameters are invalid. No request is sent.
	ErrRejected = errors.New("command rejected")
)

func unreachable(err error) error {
	return fmt.Errorf("%w: %s", ErrUnreachable, err)
}

func protocolError(err error) error {
	return fmt.Errorf("%w: %s", ErrProtocol, err)
}
