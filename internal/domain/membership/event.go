package membership

import "time"

type EventType string

const (
	EventSubscriptionCreated     EventType = "subscription:created"
	EventSubscriptionTierChanged EventType = "subscription:tier_changed"
	EventSubscriptionPromoted    EventType = "subscription:promoted"
	EventSubscriptionCancelled   EventType = "subscription:cancelled"
	EventOrderRecorded           EventType = "subscription:order_recorded"
	EventSubscriptionExpired     EventType = "subscription:expired"
)

// Event is emitted after a lifecycle change has been committed.
type Event struct {
	Type         EventType     `json:"type"`
	UserID       int64         `json:"user_id"`
	Subscription *Subscription `json:"subscription"`
	PreviousTier int64         `json:"previous_tier_id,omitempty"`
	OccurredAt   time.Time     `json:"occurred_at"`
}

func NewEvent(t EventType, sub *Subscription, at time.Time) Event {
	return Event{
		Type:         t,
		UserID:       sub.UserID,
		Subscription: sub.Clone(),
		OccurredAt:   at,
	}
}
