// internal/websocket/handler/membership.go
package handler

import (
	"context"
	"errors"
	"fmt"

	"membership-service/internal/domain/membership"
	wstypes "membership-service/internal/domain/websocket"
	xerrors "membership-service/internal/pkg/errors"
	ws "membership-service/internal/websocket"
)

type SubscriptionReader interface {
	GetCurrent(ctx context.Context, userID int64) (*membership.Subscription, error)
	GetHistory(ctx context.Context, userID int64) ([]*membership.Subscription, error)
}

type SubscriptionDescriber interface {
	Describe(ctx context.Context, sub *membership.Subscription) *membership.SubscriptionResponse
	DescribeAll(ctx context.Context, subs []*membership.Subscription) []*membership.SubscriptionResponse
}

// MembershipHandler answers membership queries sent over the socket.
type MembershipHandler struct {
	subscriptions SubscriptionReader
	catalog       SubscriptionDescriber
}

func NewMembershipHandler(subscriptions SubscriptionReader, catalog SubscriptionDescriber) *MembershipHandler {
	return &MembershipHandler{
		subscriptions: subscriptions,
		catalog:       catalog,
	}
}

func (h *MembershipHandler) SupportedEvents() []wstypes.EventType {
	return []wstypes.EventType{
		wstypes.EventTypeMembershipCurrent,
		wstypes.EventTypeMembershipHistory,
	}
}

func (h *MembershipHandler) HandleMessage(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	switch msg.Type {
	case wstypes.EventTypeMembershipCurrent:
		return h.handleCurrent(ctx, client)
	case wstypes.EventTypeMembershipHistory:
		return h.handleHistory(ctx, client)
	default:
		return fmt.Errorf("unsupported event type: %s", msg.Type)
	}
}

func (h *MembershipHandler) handleCurrent(ctx context.Context, client *ws.Client) error {
	sub, err := h.subscriptions.GetCurrent(ctx, client.UserID())
	if errors.Is(err, xerrors.ErrNotFound) {
		client.SendMessage(wstypes.NewMessage(wstypes.EventTypeMembershipCurrent, map[string]interface{}{
			"subscription": nil,
		}))
		return nil
	}
	if err != nil {
		return err
	}

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeMembershipCurrent, map[string]interface{}{
		"subscription": h.catalog.Describe(ctx, sub),
	}))
	return nil
}

func (h *MembershipHandler) handleHistory(ctx context.Context, client *ws.Client) error {
	subs, err := h.subscriptions.GetHistory(ctx, client.UserID())
	if err != nil {
		return err
	}

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeMembershipHistory, map[string]interface{}{
		"subscriptions": h.catalog.DescribeAll(ctx, subs),
		"count":         len(subs),
	}))
	return nil
}
