package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixlyapp/fixly/internal/model"
)

type fakeConn struct {
	userID uuid.UUID
	connID uuid.UUID
	sent   []sentFrame
}

type sentFrame struct {
	event   string
	payload any
}

func (c *fakeConn) UserID() uuid.UUID       { return c.userID }
func (c *fakeConn) DeviceID() string        { return "test-device" }
func (c *fakeConn) ConnectionID() uuid.UUID { return c.connID }

func (c *fakeConn) Send(event string, payload any) error {
	c.sent = append(c.sent, sentFrame{event: event, payload: payload})
	return nil
}

func (c *fakeConn) lastError(t *testing.T) model.ErrorFrame {
	t.Helper()
	require.NotEmpty(t, c.sent)
	last := c.sent[len(c.sent)-1]
	require.Equal(t, model.EventError, last.event)
	frame, ok := last.payload.(model.ErrorFrame)
	require.True(t, ok)
	return frame
}

func frame(t *testing.T, event string, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(model.Envelope{
		Version:   "1.0",
		Event:     event,
		Timestamp: time.Now().UnixMilli(),
		Payload:   data,
	})
	require.NoError(t, err)
	return raw
}

func TestRouteExactMatch(t *testing.T) {
	r := New()
	conn := &fakeConn{userID: uuid.New(), connID: uuid.New()}

	var gotEvent string
	r.Register("presence:heartbeat", func(_ context.Context, _ Conn, env model.Envelope) error {
		gotEvent = env.Event
		return nil
	})

	r.Route(context.Background(), conn, frame(t, "presence:heartbeat", nil))
	assert.Equal(t, "presence:heartbeat", gotEvent)
	assert.Empty(t, conn.sent)
}

func TestRouteExactBeatsWildcard(t *testing.T) {
	r := New()
	conn := &fakeConn{}

	var via string
	r.Register("presence:*", func(_ context.Context, _ Conn, _ model.Envelope) error {
		via = "wildcard"
		return nil
	})
	r.Register("presence:subscribe", func(_ context.Context, _ Conn, _ model.Envelope) error {
		via = "exact"
		return nil
	})

	r.Route(context.Background(), conn, frame(t, "presence:subscribe", nil))
	assert.Equal(t, "exact", via)

	r.Route(context.Background(), conn, frame(t, "presence:unsubscribe", nil))
	assert.Equal(t, "wildcard", via)
}

func TestRouteWildcardSegmentDoesNotSpanSegments(t *testing.T) {
	r := New()
	conn := &fakeConn{}

	r.Register("presence:*", func(_ context.Context, _ Conn, _ model.Envelope) error {
		t.Fatal("wildcard must not match a different segment count")
		return nil
	})

	r.Route(context.Background(), conn, frame(t, "presence:status:extra", nil))
	assert.Equal(t, model.ErrCodeNoHandler, conn.lastError(t).Error)
}

func TestRouteNoHandler(t *testing.T) {
	r := New()
	conn := &fakeConn{}

	r.Route(context.Background(), conn, frame(t, "unknown:event", nil))

	errFrame := conn.lastError(t)
	assert.Equal(t, model.ErrCodeNoHandler, errFrame.Error)
	assert.Equal(t, "unknown:event", errFrame.Event)
}

func TestRouteValidation(t *testing.T) {
	r := New()
	r.Register("presence:heartbeat", func(_ context.Context, _ Conn, _ model.Envelope) error {
		t.Fatal("invalid envelopes must not be routed")
		return nil
	})

	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{invalid`},
		{"missing version", `{"event":"presence:heartbeat","timestamp":123}`},
		{"missing event", `{"version":"1.0","timestamp":123}`},
		{"missing timestamp", `{"version":"1.0","event":"presence:heartbeat"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := &fakeConn{}
			r.Route(context.Background(), conn, []byte(tc.raw))
			assert.Equal(t, model.ErrCodeValidation, conn.lastError(t).Error)
		})
	}
}

func TestRouteHandlerErrorIsReportedNotPropagated(t *testing.T) {
	r := New()
	conn := &fakeConn{}

	r.Register("notification:send", func(_ context.Context, _ Conn, _ model.Envelope) error {
		return errors.New("boom")
	})

	r.Route(context.Background(), conn, frame(t, "notification:send", nil))

	errFrame := conn.lastError(t)
	assert.Equal(t, model.ErrCodeHandlerError, errFrame.Error)
	assert.Equal(t, "boom", errFrame.Message)
}

func TestRouteHandlerPanicIsRecovered(t *testing.T) {
	r := New()
	conn := &fakeConn{}

	r.Register("notification:send", func(_ context.Context, _ Conn, _ model.Envelope) error {
		panic("kaboom")
	})

	assert.NotPanics(t, func() {
		r.Route(context.Background(), conn, frame(t, "notification:send", nil))
	})
	assert.Equal(t, model.ErrCodeHandlerError, conn.lastError(t).Error)
}
