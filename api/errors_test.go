package api_test

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/hioload-net/api"
)

func TestSocketErrorKeepsErrno(t *testing.T) {
	err := api.SocketError("connect", syscall.ECONNREFUSED)

	assert.Equal(t, api.ErrCodeSocket, err.Code)
	assert.Equal(t, int(syscall.ECONNREFUSED), err.Context["errno"])
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
	assert.Contains(t, err.Error(), "connect")
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, api.ErrCodeOK, api.CodeOf(nil))
	assert.Equal(t, api.ErrCodeInternal, api.CodeOf(errors.New("foreign")))

	wrapped := api.NewError(api.ErrCodeState, "listen").WithCause(api.ErrInvalidState)
	assert.Equal(t, api.ErrCodeState, api.CodeOf(wrapped))
	assert.ErrorIs(t, wrapped, api.ErrInvalidState)
	assert.Equal(t, "state", api.ErrCodeState.String())
}

func TestWithContextInitializesMap(t *testing.T) {
	e := (&api.Error{Code: api.ErrCodeResolve, Message: "resolve"}).WithContext("host", "example.invalid")
	assert.Equal(t, "example.invalid", e.Context["host"])
	assert.Contains(t, e.Error(), "host")
}
