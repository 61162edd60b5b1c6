package domain

type (
	RoomName string
	RoomID   string
)

type Room struct {
	ID   RoomID
	Name RoomName
	// Code invites a friend into a room-variant session.
	Code string
}

// Variant selects the readiness rules of a match session.
type Variant int

const (
	// VariantRandom pairs two peers from the matchmaking queue.
	VariantRandom Variant = iota
	// VariantRoom is a host/guest room created for a friend.
	VariantRoom
)

func (v Variant) String() string {
	if v == VariantRoom {
		return "room"
	}
	return "random"
}
