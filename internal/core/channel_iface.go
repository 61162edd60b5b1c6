package core

import (
	"context"

	"github.com/dkeye/SmileBattle/internal/domain"
	"github.com/dkeye/SmileBattle/internal/protocol"
)

//go:generate mockgen -destination=mocks/publisher_mock.go -package=mocks . Publisher

// Publisher sends a request to the room's outbound topic.
type Publisher interface {
	Publish(ctx context.Context, room domain.RoomID, m protocol.Outbound) error
}

// RoomUnsubscriber drops the room's inbound and error subscriptions.
type RoomUnsubscriber interface {
	Unsubscribe(room domain.RoomID) error
}
