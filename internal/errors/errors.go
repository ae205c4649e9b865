package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by where it came from and how callers should react to it.
type Kind string

const (
	// Network is a failed, timed out or cancelled feed fetch.
	Network Kind = "network"
	// Parse is feed content that could not be understood.
	Parse Kind = "parse"
	// Store is a constraint violation or I/O fault in the relational store.
	Store Kind = "store"
	// Invalid is a malformed request to one of the adapters.
	Invalid Kind = "invalid"
	// NotFound is a request for something that is not stored.
	NotFound Kind = "not_found"
)

// Sentinels usable with [errors.Is].
var (
	ErrNetwork = &Error{Kind: Network}
	ErrParse   = &Error{Kind: Parse}
	ErrStore   = &Error{Kind: Store}
)

// Op names the operation that failed, e.g. "feed.Fetch".
type Op string

// Error represents a universal error type between the packages.
type Error struct {
	Kind Kind
	Op   Op
	URL  string // The feed this concerns, if any
	Err  error  // The error this wraps

	// Code overrides the HTTP status derived from Kind.
	Code int
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.URL != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.URL)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind only, so any error of a kind matches that kind's sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}

// Status maps the kind onto an HTTP status for the adapters that need one.
func (e *Error) Status() int {
	if e.Code != 0 {
		return e.Code
	}

	switch e.Kind {
	case Network:
		return http.StatusBadGateway
	case Parse:
		return http.StatusUnprocessableEntity
	case Invalid:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type transport struct {
	Message string `json:"message"`
	Kind    Kind   `json:"kind"`
	URL     string `json:"url,omitempty"`
}

func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(transport{
		Message: e.Error(),
		Kind:    e.Kind,
		URL:     e.URL,
	})
}

// E builds an [*Error] from its arguments, which may be given in any order.
//
// A string becomes the wrapped error's message, an error is wrapped as is and an
// int is taken as the HTTP status.
func E(args ...any) *Error {
	ret := &Error{
		Kind: Store,
	}

	for _, arg := range args {
		switch arg := arg.(type) {
		case Kind:
			ret.Kind = arg
		case Op:
			ret.Op = arg
		case int:
			ret.Code = arg
		case string:
			ret.Err = errors.New(arg)
		case error:
			ret.Err = arg
		}
	}

	return ret
}

// KindOf reports the kind of the first [*Error] in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}

	return e.Kind, true
}

// WithURL sets the feed URL on err if it is an [*Error] without one.
func WithURL(err error, url string) error {
	var e *Error
	if errors.As(err, &e) && e.URL == "" {
		e.URL = url
	}

	return err
}
