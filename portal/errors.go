package portal

import (
	"errors"
	"fmt"
)

var (
	// ErrFieldNotFound means a login form element matched none of its locators.
	ErrFieldNotFound = errors.New("portal: field not found")

	// ErrNoteListUnreachable means neither the menu icon nor the direct URL
	// reached the notes screen.
	ErrNoteListUnreachable = errors.New("portal: note list unreachable")

	// ErrLoginRejected is returned in strict login mode when the portal is
	// still on the login page after submitting.
	ErrLoginRejected = errors.New("portal: still on login page after submit")
)

// FieldError names the login form element that could not be located.
type FieldError struct {
	Field string // "login", "password", "submit"
	Tried Chain
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("portal: %s field not found (tried %d locators)", e.Field, len(e.Tried))
}

func (e *FieldError) Unwrap() error { return ErrFieldNotFound }
