// Package converrors defines the error taxonomy shared by the client and
// server: a small set of kinds, each with a fixed HTTP status, so handlers
// never have to invent a status code at the call site.
package converrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one of the error categories from the error handling design.
type Kind string

const (
	BadEncoding         Kind = "BadEncoding"
	HashMismatch        Kind = "HashMismatch"
	UnsupportedVersion  Kind = "UnsupportedVersion"
	ObjectMissing       Kind = "ObjectMissing"
	CycleDetected       Kind = "CycleDetected"
	GateGraphInvalid    Kind = "GateGraphInvalid"
	ReleasesDisabled    Kind = "ReleasesDisabled"
	BundleNotPromotable Kind = "BundleNotPromotable"
	Conflict            Kind = "Conflict"
	NotFound            Kind = "NotFound"
	Unauthorized        Kind = "Unauthorized"
	Forbidden           Kind = "Forbidden"
	Transient           Kind = "Transient"
)

// status maps each kind to the HTTP status code it surfaces as, per §4.10/§7.
var status = map[Kind]int{
	BadEncoding:         http.StatusBadRequest,
	HashMismatch:        http.StatusBadRequest,
	UnsupportedVersion:  http.StatusBadRequest,
	ObjectMissing:       http.StatusBadRequest,
	CycleDetected:       http.StatusBadRequest,
	GateGraphInvalid:    http.StatusBadRequest,
	ReleasesDisabled:    http.StatusBadRequest,
	BundleNotPromotable: http.StatusConflict,
	Conflict:            http.StatusConflict,
	NotFound:            http.StatusNotFound,
	Unauthorized:        http.StatusUnauthorized,
	Forbidden:           http.StatusForbidden,
	Transient:           http.StatusServiceUnavailable,
}

// Issue is one structured complaint about a gate-graph edit (§4.5).
type Issue struct {
	Code     string `json:"code"`
	Gate     string `json:"gate,omitempty"`
	Upstream string `json:"upstream,omitempty"`
	Message  string `json:"message"`
}

// Error is a structured, user-visible failure carrying its kind and,
// for gate-graph validation, a list of issues.
type Error struct {
	Kind    Kind
	Message string
	Issues  []Issue
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Status returns the HTTP status code this error surfaces as.
func (e *Error) Status() int {
	if code, ok := status[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// New builds a plain error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithIssues builds a GateGraphInvalid-style error carrying structured issues.
func WithIssues(kind Kind, message string, issues []Issue) *Error {
	return &Error{Kind: kind, Message: message, Issues: issues}
}

// As extracts a *Error from err, if present in its chain.
func As(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	if ce, ok := As(err); ok {
		return ce.Kind
	}
	return ""
}

// IsTransient reports whether err should be retried by the transfer layer.
func IsTransient(err error) bool {
	return KindOf(err) == Transient
}
