package core

import (
	"context"

	"github.com/dkeye/SmileBattle/internal/domain"
)

// RoomExiter is the server-side room membership collaborator.
type RoomExiter interface {
	ExitRoom(ctx context.Context, room domain.RoomID) error
}

// Reporter files an abuse report against the opponent.
type Reporter interface {
	SubmitReport(ctx context.Context, r domain.ReportRequest) error
}
