package server

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/Tyrowin/agora/internal/topic"
)

func TestConnectionErrorNormal(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name string
		err  *ConnectionError
		want bool
	}{
		{name: "normal closure", err: &ConnectionError{SessionID: id, Op: opRead, Err: &websocket.CloseError{Code: websocket.CloseNormalClosure}}, want: true},
		{name: "going away", err: &ConnectionError{SessionID: id, Op: opRead, Err: &websocket.CloseError{Code: websocket.CloseGoingAway}}, want: true},
		{name: "shutdown", err: &ConnectionError{SessionID: id, Op: opShutdown, Err: errors.New("context canceled")}, want: true},
		{name: "broken pipe", err: &ConnectionError{SessionID: id, Op: opWrite, Err: &net.OpError{Op: "write", Err: os.NewSyscallError("write", syscall.EPIPE)}}, want: true},
		{name: "closed socket", err: &ConnectionError{SessionID: id, Op: opRead, Err: &net.OpError{Op: "read", Err: net.ErrClosed}}, want: true},
		{name: "close sent", err: &ConnectionError{SessionID: id, Op: opWrite, Err: websocket.ErrCloseSent}, want: true},
		{name: "abnormal closure", err: &ConnectionError{SessionID: id, Op: opRead, Err: &websocket.CloseError{Code: websocket.CloseAbnormalClosure}}, want: false},
		{name: "read limit", err: &ConnectionError{SessionID: id, Op: opRead, Err: websocket.ErrReadLimit}, want: false},
		{name: "unexpected eof", err: &ConnectionError{SessionID: id, Op: opRead, Err: io.ErrUnexpectedEOF}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Normal())
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	connErr := &ConnectionError{Op: opRead, Err: io.EOF}
	assert.ErrorIs(t, connErr, io.EOF)
	assert.Contains(t, connErr.Error(), "read")

	assert.ErrorIs(t, &ClientError{SessionID: uuid.New()}, ErrSessionClosed)

	subErr := &SubscriptionError{Topic: "news", Err: ErrSessionClosed}
	assert.ErrorIs(t, subErr, ErrSessionClosed)
	assert.Contains(t, subErr.Error(), `"news"`)

	routeErr := &RoutingError{Topic: "news", Err: topic.ErrClosed}
	assert.ErrorIs(t, routeErr, topic.ErrClosed)
}
