package mmd

import (
	"errors"
	"fmt"
	"io"
)

// ParseError is a fatal structural failure: the stream does not contain a
// well-formed document. It records the format, the section being read and
// the byte offset where the failure was detected.
type ParseError struct {
	Format  string
	Section string
	Offset  int64
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s at offset %d: %v", e.Format, e.Section, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Truncated reports whether the failure was caused by the input ending
// before the section's declared size.
func (e *ParseError) Truncated() bool {
	return errors.Is(e.Err, io.EOF) || errors.Is(e.Err, io.ErrUnexpectedEOF)
}

// UnsupportedVersionError is returned when the header version is outside
// the range the codec understands.
type UnsupportedVersionError struct {
	Format  string
	Version float32
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("%s: unsupported version %v", e.Format, e.Version)
}

// EncodingError is returned when a text field cannot be interpreted in the
// declared encoding.
type EncodingError struct {
	Encoding string
	Reason   string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("invalid %s text: %s", e.Encoding, e.Reason)
}

// IssueKind classifies a non-fatal problem found in a parsed document.
type IssueKind int

const (
	IssueDanglingReference IssueKind = iota
	IssueCycle
	IssueNaN
	IssueNameConflict
	IssueNonStandardHeader
	IssueCountMismatch
)

func (k IssueKind) String() string {
	switch k {
	case IssueDanglingReference:
		return "dangling reference"
	case IssueCycle:
		return "cycle"
	case IssueNaN:
		return "NaN value"
	case IssueNameConflict:
		return "name conflict"
	case IssueNonStandardHeader:
		return "non-standard header"
	case IssueCountMismatch:
		return "count mismatch"
	}
	return "unknown"
}

// Issue is an advisory finding. Parsers and Validate collect issues instead
// of failing; the caller decides whether any of them is fatal.
type Issue struct {
	Kind    IssueKind
	Source  string
	Message string
}

func (i *Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Kind, i.Source, i.Message)
}

func issuef(kind IssueKind, source, format string, args ...interface{}) *Issue {
	return &Issue{Kind: kind, Source: source, Message: fmt.Sprintf(format, args...)}
}
