package config

import (
	"errors"
	"fmt"
)

// ErrMalformed marks a document that could be read but not decoded into the expected shape.
var ErrMalformed = errors.New("malformed config document")

// LoadError reports a document that could not be read or decoded.
// Unwrap exposes fs.ErrNotExist / fs.ErrPermission for OS failures and ErrMalformed for decode failures.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load config %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

const (
	reasonMissing = "missing"
	reasonEmpty   = "empty"
	// The value is absolute or climbs out of the directory it is joined onto.
	reasonEscapes = "escapes"
)

// KeyError reports a required key that is absent, empty, or names a path that
// escapes its directory. Key is the dotted path from the document root.
type KeyError struct {
	Key    string
	Reason string
}

func (e *KeyError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = reasonMissing
	}
	return fmt.Sprintf("config key %q: %s", e.Key, reason)
}

// IsKeyError reports whether err carries a KeyError, returning it when found.
func IsKeyError(err error) (*KeyError, bool) {
	var keyErr *KeyError
	if errors.As(err, &keyErr) {
		return keyErr, true
	}
	return nil, false
}

// KeyErrors returns every KeyError carried by err, including those joined by
// Resolver.Validate, in order.
func KeyErrors(err error) []*KeyError {
	var out []*KeyError
	var walk func(error)
	walk = func(err error) {
		switch e := err.(type) {
		case nil:
		case *KeyError:
			out = append(out, e)
		case interface{ Unwrap() []error }:
			for _, inner := range e.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(e.Unwrap())
		}
	}
	walk(err)
	return out
}
