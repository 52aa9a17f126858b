package model

import "encoding/json"

// Supported envelope versions. The version field is required on every frame
// but unsupported values are not rejected yet.
var SupportedVersions = map[string]bool{
	"1.0": true,
}

// Envelope wraps every realtime frame, inbound and outbound
type Envelope struct {
	Version   string          `json:"version"`
	Event     string          `json:"event"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Socket event names consumed and produced by the realtime core
const (
	// Presence (inbound)
	EventPresenceUpdateStatus   = "presence:update_status"
	EventPresenceSubscribe      = "presence:subscribe"
	EventPresenceUnsubscribe    = "presence:unsubscribe"
	EventPresenceHeartbeat      = "presence:heartbeat"
	EventPresenceGetStatus      = "presence:get_status"
	EventPresenceGetBatchStatus = "presence:get_batch_status"

	// Notification (inbound)
	EventNotificationSend             = "notification:send"
	EventNotificationMarkRead         = "notification:mark_read"
	EventNotificationGet              = "notification:get"
	EventNotificationUpdatePreference = "notification:update_preference"

	// Outbound pushes
	EventPresenceStatusChange  = "presence:status_change"
	EventPresenceStatusUpdated = "presence:status_updated"
	EventNotificationReceived  = "notification:received"
	EventError                 = "error"
)

// Error codes carried on outbound error frames
const (
	ErrCodeValidation   = "validation_error"
	ErrCodeNoHandler    = "no_handler"
	ErrCodeHandlerError = "handler_error"
	ErrCodeRateLimited  = "rate_limited"
)

// ErrorFrame is the payload of an outbound "error" event
type ErrorFrame struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
