package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fixlyapp/fixly/internal/model"
	"github.com/fixlyapp/fixly/pkg/mailer"
	"github.com/fixlyapp/fixly/pkg/push"
	"github.com/fixlyapp/fixly/pkg/sms"
)

// Pusher delivers an event to every live socket of a user. Satisfied by
// ws.Hub.
type Pusher interface {
	SendToUser(userID uuid.UUID, event string, payload any)
}

// Adapter performs the actual transmission for one delivery channel. All
// provider specifics stay behind this interface; the worker only sees
// send-or-error.
type Adapter interface {
	Channel() model.Channel
	Send(ctx context.Context, p DeliveryPayload) (messageID string, err error)
}

// ========== In-app ==========

// InAppAdapter pushes notification:received frames to the user's live
// sockets. The durable feed row was already written at create time, so the
// REST poll needs nothing from this adapter.
type InAppAdapter struct {
	pusher Pusher
}

func NewInAppAdapter(pusher Pusher) *InAppAdapter {
	return &InAppAdapter{pusher: pusher}
}

func (a *InAppAdapter) Channel() model.Channel { return model.ChannelInApp }

func (a *InAppAdapter) Send(_ context.Context, p DeliveryPayload) (string, error) {
	a.pusher.SendToUser(p.UserID, model.EventNotificationReceived, map[string]any{
		"notification_id": p.NotificationID,
		"title":           p.Title,
		"body":            p.Body,
		"category":        p.Category,
		"priority":        p.Priority,
		"metadata":        p.Metadata,
	})
	return "", nil
}

// ========== Push (FCM) ==========

type PushAdapter struct {
	sender *push.Sender
	prefs  PreferenceStore
}

func NewPushAdapter(sender *push.Sender, prefs PreferenceStore) *PushAdapter {
	return &PushAdapter{sender: sender, prefs: prefs}
}

func (a *PushAdapter) Channel() model.Channel { return model.ChannelPush }

func (a *PushAdapter) Send(ctx context.Context, p DeliveryPayload) (string, error) {
	tokens, err := a.prefs.ListPushTokens(ctx, p.UserID, true)
	if err != nil {
		return "", fmt.Errorf("failed to load push tokens: %w", err)
	}
	if len(tokens) == 0 {
		return "", fmt.Errorf("user %s has no enabled push tokens", p.UserID)
	}

	raw := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		raw = append(raw, tok.Token)
	}

	data := map[string]string{
		"notification_id": p.NotificationID.String(),
		"category":        p.Category,
		"priority":        string(p.Priority),
	}
	for k, v := range p.Metadata {
		data[k] = v
	}

	if err := a.sender.Send(ctx, raw, p.Title, p.Body, data); err != nil {
		return "", err
	}
	return p.NotificationID.String(), nil
}

// ========== Email ==========

type EmailAdapter struct {
	mailer *mailer.Mailer
	prefs  PreferenceStore
}

func NewEmailAdapter(m *mailer.Mailer, prefs PreferenceStore) *EmailAdapter {
	return &EmailAdapter{mailer: m, prefs: prefs}
}

func (a *EmailAdapter) Channel() model.Channel { return model.ChannelEmail }

func (a *EmailAdapter) Send(ctx context.Context, p DeliveryPayload) (string, error) {
	pref, err := a.prefs.GetOrCreate(ctx, p.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to load preferences: %w", err)
	}
	if pref.Email == "" {
		return "", fmt.Errorf("user %s has no email on file", p.UserID)
	}
	if err := a.mailer.SendNotification(pref.Email, p.Title, p.Body, p.Category); err != nil {
		return "", err
	}
	return "", nil
}

// ========== SMS (Twilio) ==========

type SMSAdapter struct {
	sender *sms.Sender
	prefs  PreferenceStore
}

func NewSMSAdapter(sender *sms.Sender, prefs PreferenceStore) *SMSAdapter {
	return &SMSAdapter{sender: sender, prefs: prefs}
}

func (a *SMSAdapter) Channel() model.Channel { return model.ChannelSMS }

func (a *SMSAdapter) Send(ctx context.Context, p DeliveryPayload) (string, error) {
	pref, err := a.prefs.GetOrCreate(ctx, p.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to load preferences: %w", err)
	}
	if pref.PhoneNumber == "" {
		return "", fmt.Errorf("user %s has no phone number on file", p.UserID)
	}

	body := p.Title
	if p.Body != "" {
		body += ": " + p.Body
	}
	return a.sender.Send(pref.PhoneNumber, body)
}
