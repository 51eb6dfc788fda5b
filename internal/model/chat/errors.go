package chat

import (
	"errors"
	"fmt"
)

var (
	ErrProtocolParse     = errors.New("malformed frame")
	ErrNotIdentified     = errors.New("connection not identified")
	ErrAlreadyIdentified = errors.New("connection already identified")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidUser       = errors.New("nome and telefone are required")
)

// ProtocolError describes why an inbound frame was rejected.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", ErrProtocolParse, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocolParse }

// PersistenceError wraps a failed store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ProviderError wraps a failed text generation call.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsPersistence reports whether err came from the turn or user store.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// IsProvider reports whether err came from the generation client.
func IsProvider(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
