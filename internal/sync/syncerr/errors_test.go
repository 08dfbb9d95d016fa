package syncerr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ""},
		{"auth", Auth(base), ClassAuth},
		{"wrapped auth", fmt.Errorf("list: %w", Auth(base)), ClassAuth},
		{"transient", Transient("put", base), ClassTransient},
		{"permanent", Permanent("put", base), ClassPermanent},
		{"filesystem", Filesystem("a.txt", base), ClassFilesystem},
		{"planning", Planning("bad pattern", base), ClassPlanning},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), ClassTransient},
		{"path error", &fs.PathError{Op: "open", Path: "x", Err: fs.ErrPermission}, ClassFilesystem},
		{"unknown", base, ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassOf(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(Auth(ErrNoCredentials)))
	assert.True(t, IsFatal(Planning("no root", ErrNoLocalRoot)))
	assert.False(t, IsFatal(Transient("get", errors.New("timeout"))))
	assert.False(t, IsFatal(Filesystem("a", errors.New("eio"))))
}

func TestUnwrap(t *testing.T) {
	err := Transient("put", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var te *TransientError
	assert.ErrorAs(t, fmt.Errorf("x: %w", err), &te)
	assert.Equal(t, "put", te.Op)
}
