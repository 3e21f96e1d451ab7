package membership

import "fmt"

type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "ACTIVE"
	StatusExpired   SubscriptionStatus = "EXPIRED"
	StatusCancelled SubscriptionStatus = "CANCELLED"
)

// Transition is a status change from one state to another.
type Transition struct {
	From SubscriptionStatus
	To   SubscriptionStatus
}

// validTransitions lists every allowed status change. EXPIRED and CANCELLED are terminal.
var validTransitions = map[Transition]bool{
	{StatusActive, StatusExpired}:   true,
	{StatusActive, StatusCancelled}: true,
}

// CanTransition reports whether a subscription may move from one status to another.
func CanTransition(from, to SubscriptionStatus) bool {
	return validTransitions[Transition{From: from, To: to}]
}

// IsTerminal reports whether no transition leaves the status.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == StatusExpired || s == StatusCancelled
}

// TransitionTo moves the subscription to the target status or returns an error
// when the state machine does not allow it.
func (s *Subscription) TransitionTo(to SubscriptionStatus) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("invalid status transition from %s to %s", s.Status, to)
	}
	s.Status = to
	return nil
}
