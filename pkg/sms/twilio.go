// Package sms wraps the Twilio REST API for the SMS delivery channel.
package sms

import (
	"fmt"
	"log"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Config holds Twilio credentials
type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Sender sends SMS messages via Twilio
type Sender struct {
	client *twilio.RestClient
	from   string
}

// NewSender initializes the Twilio client. Missing credentials disable SMS
// without blocking startup; callers get a nil *Sender and its methods no-op.
func NewSender(cfg Config) *Sender {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		log.Println("⚠️ Twilio credentials not provided, SMS notifications disabled")
		return nil
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	log.Println("✅ Twilio SMS initialized")
	return &Sender{client: client, from: cfg.FromNumber}
}

// Enabled reports whether SMS delivery is configured
func (s *Sender) Enabled() bool {
	return s != nil && s.client != nil
}

// Send sends one SMS and returns the provider message id
func (s *Sender) Send(to, body string) (string, error) {
	if !s.Enabled() {
		return "", nil
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("failed to send SMS to %s: %w", to, err)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	log.Printf("📱 SMS sent to %s (sid=%s)", to, sid)
	return sid, nil
}
