package transport

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/chatsync/chatsync/internal/chat"
)

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"local close", chat.ErrConnClosed, false},
		{"normal closure", websocket.CloseError{Code: websocket.StatusNormalClosure}, false},
		{"going away", websocket.CloseError{Code: websocket.StatusGoingAway}, false},
		{"abnormal closure", websocket.CloseError{Code: websocket.StatusAbnormalClosure}, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"plain error", errors.New("broken pipe"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transient(tt.err))
		})
	}
}
