package blob

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/openmined/s3sync/internal/sync/syncerr"
	"github.com/stretchr/testify/assert"
)

func responseErr(status int) error {
	return &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
		Err:      errors.New("http error"),
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want syncerr.Class
	}{
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, syncerr.ClassTransient},
		{"bad key", &smithy.GenericAPIError{Code: "InvalidAccessKeyId"}, syncerr.ClassAuth},
		{"no such key", &smithy.GenericAPIError{Code: "NoSuchKey"}, syncerr.ClassPermanent},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, syncerr.ClassPermanent},
		{"503", responseErr(http.StatusServiceUnavailable), syncerr.ClassTransient},
		{"429", responseErr(http.StatusTooManyRequests), syncerr.ClassTransient},
		{"403", responseErr(http.StatusForbidden), syncerr.ClassPermanent},
		{"deadline", context.DeadlineExceeded, syncerr.ClassTransient},
		{"transport", &smithy.OperationError{ServiceID: "S3", OperationName: "PutObject", Err: errors.New("connection reset by peer")}, syncerr.ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, syncerr.ClassOf(classify("put", tt.err)))
		})
	}
}

func TestClassify_NotFound(t *testing.T) {
	err := classify("get", &smithy.GenericAPIError{Code: "NoSuchKey"})
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(classify("head", responseErr(http.StatusNotFound))))
	assert.False(t, IsNotFound(classify("get", responseErr(http.StatusInternalServerError))))
}

func TestClassify_CanceledPassesThrough(t *testing.T) {
	err := classify("put", context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, classify("put", nil))
}

func TestIsLocalRel(t *testing.T) {
	for rel, want := range map[string]bool{
		"a.txt":          true,
		"dir/sub/b.bin":  true,
		"..hidden":       true,
		"":               false,
		".":              false,
		"../x":           false,
		"a/../../x":      false,
		"/etc/passwd":    false,
		"a//b":           false,
		"./a":            false,
		"a/":             false,
	} {
		assert.Equal(t, want, IsLocalRel(rel), rel)
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "a/b.txt", JoinKey("", "a/b.txt"))
	assert.Equal(t, "backup/a/b.txt", JoinKey("/backup/", "a/b.txt"))

	rel, ok := RelKey("backup", "backup/a/b.txt")
	assert.True(t, ok)
	assert.Equal(t, "a/b.txt", rel)

	_, ok = RelKey("backup", "backups/x")
	assert.False(t, ok)

	// no cleaning: the key round-trips exactly
	key := JoinKey("backup", "../x")
	assert.Equal(t, "backup/../x", key)
	rel, ok = RelKey("backup", key)
	assert.True(t, ok)
	assert.Equal(t, "../x", rel)

	assert.Equal(t, "", ListPrefix("/"))
	assert.Equal(t, "backup/", ListPrefix("backup"))
}
