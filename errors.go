package nvmeharness

import (
	"errors"
	"fmt"
)

// Error is a structured harness error carrying enough context to identify
// which worker, queue, and NVMe status produced it, mirrored against the
// teacher's structured *Error/ErrorCode pattern.
type Error struct {
	Op     string    // operation that failed, e.g. "Attach", "RunWorker"
	WID    int       // worker id (-1 if not applicable)
	QID    int       // queue id (-1 if not applicable)
	Code   ErrorCode // high-level error category
	Status uint16    // packed NVMe (SCT<<8)|SC, 0 if not applicable
	Msg    string
	Inner  error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.WID >= 0 {
		parts = append(parts, fmt.Sprintf("wid=%d", e.WID))
	}
	if e.QID >= 0 {
		parts = append(parts, fmt.Sprintf("qid=%d", e.QID))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=0x%04x", e.Status))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("nvmeharness: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("nvmeharness: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode categorizes a harness error (spec §4.4 "Setup validation",
// "Termination"; §4.1 "Verification protocol"; §4.5 "Process lifecycle").
type ErrorCode string

const (
	ErrCodeSetupInvalid ErrorCode = "setup: invalid argument"
	ErrCodeQueueNotOpen ErrorCode = "queue not open"
	ErrCodeProbeFailed  ErrorCode = "controller probe failed"
	ErrCodeZoneConflict ErrorCode = "shared zone already reserved"
	ErrCodeZoneNotFound ErrorCode = "shared zone not found"
	ErrCodeSubmitFailed ErrorCode = "command submission failed"
	ErrCodeVerifyFailed ErrorCode = "read verification failed"
	ErrCodeWatchdog     ErrorCode = "watchdog expired"
	ErrCodeDriver       ErrorCode = "driver error"
)

// NewError creates a structured error with no worker/queue context.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, WID: -1, QID: -1, Code: code, Msg: msg}
}

// NewWorkerError creates a structured error scoped to a worker/queue.
func NewWorkerError(op string, wid, qid int, code ErrorCode, msg string) *Error {
	return &Error{Op: op, WID: wid, QID: qid, Code: code, Msg: msg}
}

// NewStatusError creates a structured error carrying a packed NVMe status
// code, e.g. a synthesized verification failure or the setup validator's
// 0x0002 (spec §4.4 step 1, §4.1 "Verification protocol").
func NewStatusError(op string, wid int, code ErrorCode, status uint16) *Error {
	return &Error{Op: op, WID: wid, QID: -1, Code: code, Status: status, Msg: string(code)}
}

// WrapError wraps an existing error with harness context, preserving a
// nested *Error's fields if inner already is one.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if he, ok := inner.(*Error); ok {
		return &Error{
			Op:     op,
			WID:    he.WID,
			QID:    he.QID,
			Code:   he.Code,
			Status: he.Status,
			Msg:    he.Msg,
			Inner:  he.Inner,
		}
	}
	return &Error{Op: op, WID: -1, QID: -1, Code: ErrCodeDriver, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err (or something it wraps) is a *Error with
// the given code.
func IsCode(err error, code ErrorCode) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Code == code
	}
	return false
}
