// Package avrerr names the logical error kinds from the bridge's error
// taxonomy (payload shape, prog-mode entry, erase ceiling, unknown command,
// not in programming mode) so
// callers can use errors.Is/errors.As across package boundaries instead of
// string-matching, in the same Error{msg, err} wrapping style the teacher
// package uses for syscall errors.
package avrerr

import "fmt"

// Error wraps an underlying cause with a short, stable message, mirroring
// hostio.Error's shape.
type Error struct {
	msg string
	err error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.err.Error())
	}
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.err
}

// Wrap attaches msg as context to err, in the same style as hostio's
// wrapErr. Returns nil if err is nil.
func Wrap(msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{msg: msg, err: err}
}

var (
	// ErrBadPayloadShape covers wrong payload length, bad memtype, or
	// an oversized page in PROG_PAGE/READ_PAGE.
	ErrBadPayloadShape = &Error{msg: "bad payload shape"}

	// ErrProgModeEntryFailed is returned when enter_programming_mode
	// exhausts its retries without seeing the 0x53 echo byte.
	ErrProgModeEntryFailed = &Error{msg: "programming mode entry failed"}

	// ErrEraseCeiling is returned when chip_erase is refused because
	// erase_count has already reached the safety ceiling.
	ErrEraseCeiling = &Error{msg: "chip-erase ceiling reached, refusing to erase further"}

	// ErrUnknownCommand marks a decoded command byte the dispatcher has
	// no handler for.
	ErrUnknownCommand = &Error{msg: "unknown command"}

	// ErrNotInProgrammingMode guards §3 invariant 4: no flash write or
	// chip-erase may be issued while in_programming_mode is false.
	ErrNotInProgrammingMode = &Error{msg: "target is not in programming mode"}
)
