// Package category implements the error taxonomy used across deskrelay:
// Transport, Protocol, Auth, Codec, Capture, Display, Config, and Audio.
//
// Codec errors on a single frame are logged and swallowed by the caller;
// every other category fails the session.
package category

import (
	"errors"
	"fmt"
)

// Kind identifies an error category.
type Kind string

const (
	Transport Kind = "transport"
	Protocol  Kind = "protocol"
	Auth      Kind = "auth"
	Codec     Kind = "codec"
	Capture   Kind = "capture"
	Display   Kind = "display"
	Config    Kind = "config"
	Audio     Kind = "audio"
)

// Error wraps a cause with a category so role drivers can decide whether
// a failure is fatal to the session (everything except Codec) or should
// be logged and the pipeline allowed to continue (Codec, single frame only).
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Wrap annotates err with a category. Returns nil if err is nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Cause: err}
}

// Wrapf is Wrap with an added message, analogous to fmt.Errorf("...: %w", err).
func Wrapf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Cause: fmt.Errorf(format, args...)}
}

// Is reports whether err (or anything it wraps) belongs to kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// Fatal reports whether an error of this category should terminate the
// session (everything but Codec).
func Fatal(err error) bool {
	return !Is(err, Codec)
}

// ExitCode maps a category to a process exit code, used by cmd/* so the
// exit status identifies the failing category per spec §6/§7.
func ExitCode(err error) int {
	var ce *Error
	if !errors.As(err, &ce) {
		return 1
	}
	switch ce.Kind {
	case Transport:
		return 10
	case Protocol:
		return 11
	case Auth:
		return 12
	case Codec:
		return 13
	case Capture:
		return 14
	case Display:
		return 15
	case Config:
		return 16
	case Audio:
		return 17
	default:
		return 1
	}
}
