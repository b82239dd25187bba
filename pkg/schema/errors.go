package schema

import (
	"fmt"
	"strings"
)

// ValidationError is a single field failure.
type ValidationError struct {
	Key    string
	Reason string
	Value  any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Key, e.Reason)
}

// AggregateError holds every field failure of one validation, ordered by field name.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(e.Errors), strings.Join(parts, "; "))
}

func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// ValidationErrors returns the field failures carried by err, or nil.
func ValidationErrors(err error) []*ValidationError {
	aggr, ok := err.(*AggregateError)
	if !ok {
		return nil
	}
	out := make([]*ValidationError, 0, len(aggr.Errors))
	for _, e := range aggr.Errors {
		if v, ok := e.(*ValidationError); ok {
			out = append(out, v)
		}
	}
	return out
}
