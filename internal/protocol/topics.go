package protocol

import "github.com/dkeye/SmileBattle/internal/domain"

// Destinations on the broker.
func PublishTopic(room domain.RoomID) string { return "/publish/" + string(room) }
func RoomTopic(room domain.RoomID) string    { return "/topic/" + string(room) }
func ErrorTopic(room domain.RoomID) string   { return "/user/queue/errors/" + string(room) }

const MatchQueue = "/user/queue/match"
