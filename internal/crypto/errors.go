package crypto

import "fmt"

// FormatError reports text or a frame that could not be parsed.
type FormatError struct {
	Field string
	Err   error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error: %s: %v", e.Field, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// DecryptError reports ciphertext that could not be opened: wrong key,
// corruption or a padding mismatch.
type DecryptError struct {
	Op  string
	Err error
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("decrypt error: %s: %v", e.Op, e.Err)
}

func (e *DecryptError) Unwrap() error {
	return e.Err
}
