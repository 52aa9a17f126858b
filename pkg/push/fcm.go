// Package push wraps Firebase Cloud Messaging for the push delivery channel.
package push

import (
	"context"
	"errors"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// ErrAllTokensFailed is returned when FCM rejected every target token
var ErrAllTokensFailed = errors.New("push rejected for all device tokens")

// Sender sends multicast push messages via FCM
type Sender struct {
	client *messaging.Client
}

// NewSender initializes the FCM client. A missing credentials file disables
// push without blocking startup; callers get a nil *Sender and its methods
// no-op.
func NewSender(credentialsFile string) (*Sender, error) {
	if credentialsFile == "" {
		log.Println("⚠️ Firebase credentials not provided, push notifications disabled")
		return nil, nil
	}

	opt := option.WithCredentialsFile(credentialsFile)
	app, err := firebase.NewApp(context.Background(), nil, opt)
	if err != nil {
		// Log warning instead of error to not block server startup
		log.Printf("⚠️ Failed to initialize Firebase app: %v (push notifications disabled)", err)
		return nil, nil
	}

	client, err := app.Messaging(context.Background())
	if err != nil {
		log.Printf("⚠️ Failed to get messaging client: %v", err)
		return nil, nil
	}

	log.Println("✅ Firebase FCM initialized")
	return &Sender{client: client}, nil
}

// Enabled reports whether push delivery is configured
func (s *Sender) Enabled() bool {
	return s != nil && s.client != nil
}

// Send sends one notification to every token. Individual token failures are
// logged; the call fails only when all tokens were rejected.
func (s *Sender) Send(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	if !s.Enabled() {
		return nil
	}
	if len(tokens) == 0 {
		return nil
	}

	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ClickAction: "FLUTTER_NOTIFICATION_CLICK",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}

	br, err := s.client.SendMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending multicast message: %w", err)
	}

	if br.FailureCount > 0 {
		for idx, resp := range br.Responses {
			if !resp.Success {
				log.Printf("⚠️ FCM failure for token %s: %v", tokens[idx], resp.Error)
			}
		}
	}
	if br.SuccessCount == 0 {
		return ErrAllTokensFailed
	}
	return nil
}
