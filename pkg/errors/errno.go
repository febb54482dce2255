// Package errors defines the coded errors returned by DocAsk.
//
// An Errno carries a stable AABBCCC code (service, category, sequence), the
// HTTP and gRPC status it maps to and an English and a Chinese message.
// errors.Is compares codes, so copies made by WithCause or WithMessage still
// match the registered value:
//
//	return errors.ErrDocumentNotFound.WithMessagef("document %s not found", id)
//	return errors.ErrEmbeddingUnavailable.WithCause(err)
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/grpc/codes"
)

// Errno is a coded error.
type Errno struct {
	Code      int        `json:"code"`
	HTTP      int        `json:"-"`
	GRPCCode  codes.Code `json:"-"`
	MessageEN string     `json:"message"`
	MessageZH string     `json:"message_zh,omitempty"`

	cause error
}

func (e *Errno) Error() string {
	return fmt.Sprintf("errno %d: %s", e.Code, e.Detail())
}

func (e *Errno) Unwrap() error { return e.cause }

// Is matches any Errno with the same code.
func (e *Errno) Is(target error) bool {
	t, ok := target.(*Errno)
	return ok && t.Code == e.Code
}

// WithCause returns a copy that wraps cause.
func (e *Errno) WithCause(cause error) *Errno {
	c := *e
	c.cause = cause
	return &c
}

// WithMessage returns a copy with a different English message.
func (e *Errno) WithMessage(msg string) *Errno {
	c := *e
	c.MessageEN = msg
	return &c
}

// WithMessagef is WithMessage with formatting.
func (e *Errno) WithMessagef(format string, args ...any) *Errno {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// Message picks the message for lang. Any zh variant gets the Chinese text
// when there is one.
func (e *Errno) Message(lang string) string {
	if strings.HasPrefix(strings.ToLower(lang), "zh") && e.MessageZH != "" {
		return e.MessageZH
	}
	return e.MessageEN
}

// Detail is the English message followed by the cause, as sent to clients.
func (e *Errno) Detail() string {
	if e.cause == nil {
		return e.MessageEN
	}
	return e.MessageEN + ": " + e.cause.Error()
}

// HTTPStatus defaults to 500.
func (e *Errno) HTTPStatus() int {
	if e.HTTP == 0 {
		return http.StatusInternalServerError
	}
	return e.HTTP
}

// GRPCStatus defaults to Internal.
func (e *Errno) GRPCStatus() codes.Code {
	if e.GRPCCode == codes.OK {
		return codes.Internal
	}
	return e.GRPCCode
}

var registry sync.Map // int -> *Errno

// Register records e under its code and panics if the code is taken.
func Register(e *Errno) *Errno {
	if prev, loaded := registry.LoadOrStore(e.Code, e); loaded {
		panic(fmt.Sprintf("errno %d already registered as %q", e.Code, prev.(*Errno).MessageEN))
	}
	return e
}

// Lookup finds a registered Errno by code.
func Lookup(code int) (*Errno, bool) {
	v, ok := registry.Load(code)
	if !ok {
		return nil, false
	}
	return v.(*Errno), true
}

// FromError returns the first Errno in err's chain, or ErrInternal wrapping err.
func FromError(err error) *Errno {
	if err == nil {
		return nil
	}
	if e, ok := asErrno(err); ok {
		return e
	}
	return ErrInternal.WithCause(err)
}

// IsCode reports whether err's chain holds an Errno with code.
func IsCode(err error, code int) bool {
	e, ok := asErrno(err)
	return ok && e.Code == code
}

// GetCode returns the code of the first Errno in err's chain, or -1.
func GetCode(err error) int {
	if e, ok := asErrno(err); ok {
		return e.Code
	}
	return -1
}

func asErrno(err error) (*Errno, bool) {
	var e *Errno
	ok := stderrors.As(err, &e)
	return e, ok
}
