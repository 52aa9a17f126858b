package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fixlyapp/fixly/internal/model"
)

func deliveries(statuses ...model.DeliveryStatus) []model.NotificationDelivery {
	out := make([]model.NotificationDelivery, len(statuses))
	for i, s := range statuses {
		out[i] = model.NotificationDelivery{Status: s}
	}
	return out
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name string
		in   []model.NotificationDelivery
		want model.NotificationStatus
	}{
		{"no deliveries", nil, model.NotificationPending},
		{"all pending", deliveries(model.DeliveryPending, model.DeliveryPending), model.NotificationPending},
		{"one processing", deliveries(model.DeliveryPending, model.DeliveryProcessing), model.NotificationProcessing},
		{"one failed one pending", deliveries(model.DeliveryFailed, model.DeliveryPending), model.NotificationProcessing},
		{"one failed one processing", deliveries(model.DeliveryFailed, model.DeliveryProcessing), model.NotificationProcessing},
		{"success beats failure", deliveries(model.DeliveryFailed, model.DeliveryDelivered), model.NotificationSent},
		{"sent counts as success", deliveries(model.DeliverySent, model.DeliveryPending), model.NotificationSent},
		{"all failed", deliveries(model.DeliveryFailed, model.DeliveryFailed), model.NotificationFailed},
		{"single delivered", deliveries(model.DeliveryDelivered), model.NotificationSent},
		{"single failed", deliveries(model.DeliveryFailed), model.NotificationFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveStatus(tc.in))
		})
	}
}
