// Package router is the single dispatch point for inbound realtime frames.
// Handlers are boot-time wiring: registered once in cmd/server and never
// unregistered at runtime.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/fixlyapp/fixly/internal/model"
)

// Conn is the originating connection a routed frame belongs to. Satisfied
// by ws.Client; kept narrow so handler logic is testable without sockets.
type Conn interface {
	UserID() uuid.UUID
	DeviceID() string
	ConnectionID() uuid.UUID
	Send(event string, payload any) error
}

// Handler processes one validated envelope for one connection
type Handler func(ctx context.Context, conn Conn, env model.Envelope) error

type wildcardEntry struct {
	segments []string
	handler  Handler
}

// Router resolves a handler by exact event name first, then by scanning
// registered wildcard patterns. Exactly one handler runs per event.
type Router struct {
	exact     map[string]Handler
	wildcards []wildcardEntry
}

// New creates an empty router
func New() *Router {
	return &Router{exact: make(map[string]Handler)}
}

// Register binds a handler to an exact event name or a pattern with a "*"
// segment (e.g. "presence:*"). Later registrations of the same exact name
// replace the earlier one; wildcard patterns are scanned in registration
// order.
func (r *Router) Register(pattern string, h Handler) {
	if strings.Contains(pattern, "*") {
		r.wildcards = append(r.wildcards, wildcardEntry{
			segments: strings.Split(pattern, ":"),
			handler:  h,
		})
		return
	}
	r.exact[pattern] = h
}

// Route validates a raw inbound frame and dispatches it. Every failure mode
// is reported to the originating connection as a structured error frame;
// Route never panics and never terminates the connection.
func (r *Router) Route(ctx context.Context, conn Conn, raw []byte) {
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.sendError(conn, model.ErrCodeValidation, "malformed envelope", "")
		return
	}

	if err := validate(env); err != nil {
		r.sendError(conn, model.ErrCodeValidation, err.Error(), env.Event)
		return
	}

	handler := r.resolve(env.Event)
	if handler == nil {
		r.sendError(conn, model.ErrCodeNoHandler, "no handler registered for event", env.Event)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("❌ Handler panic for event %s (user %s): %v", env.Event, conn.UserID(), rec)
			r.sendError(conn, model.ErrCodeHandlerError, "internal handler error", env.Event)
		}
	}()

	if err := handler(ctx, conn, env); err != nil {
		log.Printf("⚠️  Handler error for event %s (user %s): %v", env.Event, conn.UserID(), err)
		r.sendError(conn, model.ErrCodeHandlerError, err.Error(), env.Event)
	}
}

// resolve tries an exact-name lookup first, then the wildcard patterns
func (r *Router) resolve(event string) Handler {
	if h, ok := r.exact[event]; ok {
		return h
	}
	segments := strings.Split(event, ":")
	for _, w := range r.wildcards {
		if matchSegments(w.segments, segments) {
			return w.handler
		}
	}
	return nil
}

func matchSegments(pattern, name []string) bool {
	if len(pattern) != len(name) {
		return false
	}
	for i, p := range pattern {
		if p != "*" && p != name[i] {
			return false
		}
	}
	return true
}

func validate(env model.Envelope) error {
	switch {
	case env.Version == "":
		return fmt.Errorf("envelope missing required field: version")
	case env.Event == "":
		return fmt.Errorf("envelope missing required field: event")
	case env.Timestamp == 0:
		return fmt.Errorf("envelope missing required field: timestamp")
	}
	// Unsupported versions are tolerated for now; the field just has to be
	// present. SupportedVersions is the eventual gate.
	return nil
}

func (r *Router) sendError(conn Conn, code, message, event string) {
	err := conn.Send(model.EventError, model.ErrorFrame{
		Error:   code,
		Message: message,
		Event:   event,
	})
	if err != nil {
		log.Printf("⚠️  Failed to send error frame to %s: %v", conn.ConnectionID(), err)
	}
}
