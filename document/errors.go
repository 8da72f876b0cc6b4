package document

import (
	"errors"
	"fmt"
)

// ErrParse is matched by every error returned from Parse.
var ErrParse = errors.New("failed to parse document")

// ParseError reports a malformed header block or signature record.
// The whole parse fails; nothing is partially applied.
type ParseError struct {
	// Entry is the zero-based index of the offending signature record,
	// or -1 when the failure is not tied to a record.
	Entry int

	// Signer is the signerDN of the offending record when it could be read.
	Signer string

	Message string
	Err     error
}

// NewParseError creates a ParseError that is not tied to a signature record.
func NewParseError(message string, err error) *ParseError {
	return &ParseError{Entry: -1, Message: message, Err: err}
}

// NewEntryParseError creates a ParseError naming a signature record.
func NewEntryParseError(entry int, signer, message string) *ParseError {
	return &ParseError{Entry: entry, Signer: signer, Message: message}
}

func (e *ParseError) Error() string {
	msg := e.Message
	switch {
	case e.Entry >= 0 && e.Signer != "":
		msg = fmt.Sprintf("signature entry %d (%s): %s", e.Entry, e.Signer, e.Message)
	case e.Entry >= 0:
		msg = fmt.Sprintf("signature entry %d: %s", e.Entry, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrParse) hold for every ParseError.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}
