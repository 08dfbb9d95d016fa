// Package syncerr defines the error classes a sync run distinguishes between.
//
// Action-level failures are either transient (retried) or permanent (fail the
// single action). Run-level failures (auth, planning) abort the run.
package syncerr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"syscall"
)

type Class string

const (
	ClassAuth       Class = "auth"
	ClassTransient  Class = "transient"
	ClassPermanent  Class = "permanent"
	ClassFilesystem Class = "filesystem"
	ClassPlanning   Class = "planning"
)

var (
	ErrNoCredentials = errors.New("no credentials available")
	ErrNoLocalRoot   = errors.New("no local root configured")
	ErrNoTarget      = errors.New("no bucket configured")
)

// AuthError means credentials are missing, expired or rejected by the store.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// TransientError is eligible for retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: transient: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError fails the action without retry.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// FilesystemError is a local read/write failure. It is never retried.
type FilesystemError struct {
	Path string
	Err  error
}

func (e *FilesystemError) Error() string { return fmt.Sprintf("filesystem %q: %v", e.Path, e.Err) }
func (e *FilesystemError) Unwrap() error { return e.Err }

// PlanningError is raised before diffing starts: bad filter pattern,
// unreachable root, missing bucket.
type PlanningError struct {
	Reason string
	Err    error
}

func (e *PlanningError) Error() string {
	if e.Err == nil {
		return "planning: " + e.Reason
	}
	return fmt.Sprintf("planning: %s: %v", e.Reason, e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }

func Auth(err error) error {
	return &AuthError{Err: err}
}

func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

func Permanent(op string, err error) error {
	return &PermanentError{Op: op, Err: err}
}

func Filesystem(path string, err error) error {
	return &FilesystemError{Path: path, Err: err}
}

func Planning(reason string, err error) error {
	return &PlanningError{Reason: reason, Err: err}
}

// ClassOf reports which class err belongs to. Errors that were never
// classified are inspected for well known transient network conditions and
// otherwise treated as permanent.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}

	var (
		authErr  *AuthError
		transErr *TransientError
		permErr  *PermanentError
		fsErr    *FilesystemError
		planErr  *PlanningError
	)

	switch {
	case errors.As(err, &authErr):
		return ClassAuth
	case errors.As(err, &planErr):
		return ClassPlanning
	case errors.As(err, &fsErr):
		return ClassFilesystem
	case errors.As(err, &transErr):
		return ClassTransient
	case errors.As(err, &permErr):
		return ClassPermanent
	}

	if isTransientNetErr(err) {
		return ClassTransient
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return ClassFilesystem
	}
	return ClassPermanent
}

func IsTransient(err error) bool {
	return ClassOf(err) == ClassTransient
}

func IsAuth(err error) bool {
	return ClassOf(err) == ClassAuth
}

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	c := ClassOf(err)
	return c == ClassAuth || c == ClassPlanning
}

func isTransientNetErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
