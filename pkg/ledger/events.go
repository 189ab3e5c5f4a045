package ledger

import "github.com/google/uuid"

// EventName identifies the kind of a ledger notification.
type EventName string

const (
	// ItemAddedEventName is emitted once per successful AddItem call.
	ItemAddedEventName EventName = "ledger.item.added"

	// PurchaseSettledEventName is emitted once per successful Purchase call.
	PurchaseSettledEventName EventName = "ledger.purchase.settled"
)

// Event carries a committed ledger notification to subscribers.
type Event struct {
	Name    EventName
	Payload any
}

// ItemAdded mirrors the catalog entry created by AddItem.
type ItemAdded struct {
	ID    uint64
	Title string
	Price uint64
	Stock uint64
}

// PurchaseSettled records a settled sale: which item, who bought it, and how
// much value moved to the owner.
type PurchaseSettled struct {
	ID      uint64
	Buyer   uuid.UUID
	Payment uint64
}
