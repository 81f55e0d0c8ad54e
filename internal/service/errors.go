package service

import "errors"

// Error kinds. Match them with errors.Is.
var (
	ErrValidation     = errors.New("validation error")
	ErrAuthentication = errors.New("authentication error")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
)

// Error is a classified failure with a message safe to show to clients.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

func validationError(msg string) error { return &Error{Kind: ErrValidation, Msg: msg} }

var (
	// ErrInvalidCredentials is the single answer for an unknown email or a wrong password.
	ErrInvalidCredentials = &Error{Kind: ErrAuthentication, Msg: "invalid email or password"}
	// ErrInvalidToken is returned for missing, malformed or expired tokens.
	ErrInvalidToken = &Error{Kind: ErrAuthentication, Msg: "invalid or expired token"}
	// ErrUserAlreadyExists is returned when registering an email that is taken.
	ErrUserAlreadyExists = &Error{Kind: ErrConflict, Msg: "user already exists"}
	// ErrUserNotFound is returned when the referenced account does not exist.
	ErrUserNotFound = &Error{Kind: ErrNotFound, Msg: "user not found"}
)
