// Package errors maps Go errors onto the low-cardinality class labels used in
// metric tags and structured logs.
package errors

import (
	goerrors "errors"
	"reflect"
	"strings"

	apperrors "github.com/marketfeed/catalogd/internal/errors"
)

// Classify returns a stable class label for err. Application errors carry
// their own taxonomy, so their code (not_found, timeout, unavailable, ...) is
// the label. Anything else falls back to the innermost concrete error type,
// which keeps driver and stdlib failures distinguishable without exploding
// tag cardinality on message text.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	if code := apperrors.GetCode(err); code != "" {
		return string(code)
	}

	return typeLabel(innermost(err))
}

func innermost(err error) error {
	for {
		next := goerrors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func typeLabel(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	label := strings.ToLower(t.String())
	label = strings.ReplaceAll(label, "*", "")
	label = strings.ReplaceAll(label, ".", "_")
	if label == "" {
		return "unknown"
	}
	return label
}
