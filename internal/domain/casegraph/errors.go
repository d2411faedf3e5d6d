package casegraph

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies resolver and policy failures.
type ErrorKind int

const (
	KindNotFound ErrorKind = iota + 1
	KindAmbiguous
	KindPrecondition
	KindUnknownCaseType
	KindInvalidProperty
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAmbiguous:
		return "ambiguous"
	case KindPrecondition:
		return "precondition_violation"
	case KindUnknownCaseType:
		return "unknown_case_type"
	case KindInvalidProperty:
		return "invalid_property"
	}
	return "unknown"
}

// Sentinels for errors.Is matching against a *LookupError of the same kind.
var (
	ErrNotFound        = &LookupError{Kind: KindNotFound}
	ErrAmbiguous       = &LookupError{Kind: KindAmbiguous}
	ErrPrecondition    = &LookupError{Kind: KindPrecondition}
	ErrUnknownCaseType = &LookupError{Kind: KindUnknownCaseType}
	ErrInvalidProperty = &LookupError{Kind: KindInvalidProperty}
)

// LookupError is returned by resolvers and reconciliation policies.
type LookupError struct {
	Kind    ErrorKind
	CaseID  string
	Message string
	Err     error
}

func (e *LookupError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *LookupError) Unwrap() error { return e.Err }

// Is matches any *LookupError with the same Kind.
func (e *LookupError) Is(target error) bool {
	t, ok := target.(*LookupError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NotFound(caseID, format string, args ...interface{}) error {
	return &LookupError{Kind: KindNotFound, CaseID: caseID, Message: fmt.Sprintf(format, args...)}
}

func Ambiguous(caseID, format string, args ...interface{}) error {
	return &LookupError{Kind: KindAmbiguous, CaseID: caseID, Message: fmt.Sprintf(format, args...)}
}

func Precondition(caseID, format string, args ...interface{}) error {
	return &LookupError{Kind: KindPrecondition, CaseID: caseID, Message: fmt.Sprintf(format, args...)}
}

func UnknownCaseType(caseID, caseType string) error {
	return &LookupError{Kind: KindUnknownCaseType, CaseID: caseID, Message: fmt.Sprintf("unknown case type: %s", caseType)}
}

func InvalidProperty(caseID, property string, err error) error {
	return &LookupError{
		Kind:    KindInvalidProperty,
		CaseID:  caseID,
		Message: fmt.Sprintf("case %s has invalid %s", caseID, property),
		Err:     err,
	}
}

// KindOf returns the kind of the first *LookupError in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var le *LookupError
	if errors.As(err, &le) {
		return le.Kind
	}
	return 0
}

// IsFatal reports whether err should stop a batch command rather than being recorded
// against a single row.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindAmbiguous, KindPrecondition:
		return true
	}
	return false
}

// StatusCode maps err to the HTTP status the API reports for it.
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindAmbiguous, KindPrecondition:
		return http.StatusConflict
	case KindInvalidProperty, KindUnknownCaseType:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
