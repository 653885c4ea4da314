package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_KindAndMessage(t *testing.T) {
	err := New(ErrConflict, MsgDeletedUsername)

	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, MsgDeletedUsername, Message(err))
	assert.Equal(t, "conflict", KindName(err))
}

func TestWrap_KeepsCause(t *testing.T) {
	err := Unreachable(context.DeadlineExceeded)

	assert.True(t, errors.Is(err, ErrStoreUnreachable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, MsgServerError, Message(err), "cause must not leak into the message")
}

func TestKind_Unclassified(t *testing.T) {
	err := fmt.Errorf("boom")

	assert.Equal(t, ErrInternal, Kind(err))
	assert.Equal(t, MsgServerError, Message(err))
	assert.Equal(t, "ok", KindName(nil))
}

func TestKind_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("login: %w", New(ErrInvalidCredentials, MsgInvalidCredentials))

	assert.Equal(t, ErrInvalidCredentials, Kind(err))
	assert.Equal(t, MsgInvalidCredentials, Message(err))
}

func TestFromMessage(t *testing.T) {
	assert.True(t, errors.Is(FromMessage(MsgDeletedUsername), ErrConflict))
	assert.True(t, errors.Is(FromMessage(MsgUserNotFound), ErrNotFound))

	unknown := FromMessage("something odd")
	assert.True(t, errors.Is(unknown, ErrValidation))
	assert.Equal(t, "something odd", Message(unknown))
}

func TestFromMessage_ReservedReadsAsConflict(t *testing.T) {
	reserved := New(ErrReserved, MsgUsernameTaken)
	wire := FromMessage(Message(reserved))

	assert.True(t, errors.Is(wire, ErrConflict))
	assert.False(t, errors.Is(wire, ErrReserved))
	assert.Equal(t, Message(reserved), Message(wire))
	assert.Equal(t, HTTPStatus(reserved), HTTPStatus(wire))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(New(ErrConflict, MsgUsernameTaken)))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(New(ErrCannotDeleteAdmin, MsgCannotDeleteAdmin)))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(New(ErrForbidden, MsgForbidden)))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(New(ErrNotFound, MsgUserNotFound)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(Unreachable(errors.New("down"))))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}
