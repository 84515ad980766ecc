package annotool

// Error types shared by the geometry functions, the codecs and the batch operations.

import (
	"fmt"
	"strings"
)

// GeometryError reports invalid coordinate math.
type GeometryError struct {
	Op     string      // The geometry operation, e.g. "convert" or "clip".
	Box    BoundingBox // The offending input box.
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("%s %v: %s", e.Op, e.Box, e.Reason)
}

// FormatError reports a malformed on-disk representation. Line is 1-based and zero when the
// format is not line oriented; Key names the offending element for structured formats.
type FormatError struct {
	Path   string
	Line   int
	Key    string
	Value  string
	Reason string
}

func (e *FormatError) Error() string {
	var b strings.Builder
	b.WriteString(e.Path)
	if e.Line > 0 {
		fmt.Fprintf(&b, ":%d", e.Line)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, ": %s", e.Key)
	}
	if e.Value != "" {
		fmt.Fprintf(&b, " %q", e.Value)
	}
	fmt.Fprintf(&b, ": %s", e.Reason)
	return b.String()
}

// UnsupportedOperationError is returned by codecs for a direction they do not implement.
type UnsupportedOperationError struct {
	Format Format
	Op     string // "decode" or "encode".
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Format, e.Op)
}

// ItemError is the failure of a single item (usually one image) in a batch operation.
type ItemError struct {
	Name string
	Err  error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// BatchError collects the per-item failures of a batch operation. The items that succeeded are
// returned alongside it.
type BatchError struct {
	Errors []ItemError
}

func (e *BatchError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d items failed, first: %v", len(e.Errors), e.Errors[0])
}

// Unwrap exposes every item error to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, v := range e.Errors {
		errs[i] = v
	}
	return errs
}

// batchErr returns nil if there are no item errors and a *BatchError otherwise.
func batchErr(errs []ItemError) error {
	if len(errs) == 0 {
		return nil
	}
	return &BatchError{Errors: errs}
}
