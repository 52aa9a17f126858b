package notification

import "github.com/fixlyapp/fixly/internal/model"

// DeriveStatus computes the overall notification status from its delivery
// sub-records. This is the only place the overall status comes from; it is
// recomputed after every delivery mutation and never set independently.
//
// Rules: FAILED only when every channel failed; SENT as soon as any channel
// reached SENT/DELIVERED (one terminal success beats any number of
// failures); PROCESSING while any channel is in flight; PENDING only while
// every channel is untouched.
func DeriveStatus(deliveries []model.NotificationDelivery) model.NotificationStatus {
	if len(deliveries) == 0 {
		return model.NotificationPending
	}

	var succeeded, failed, pending int
	for _, d := range deliveries {
		switch {
		case d.Status.Succeeded():
			succeeded++
		case d.Status == model.DeliveryFailed:
			failed++
		case d.Status == model.DeliveryPending:
			pending++
		}
	}

	switch {
	case succeeded > 0:
		return model.NotificationSent
	case failed == len(deliveries):
		return model.NotificationFailed
	case pending == len(deliveries):
		return model.NotificationPending
	default:
		return model.NotificationProcessing
	}
}
