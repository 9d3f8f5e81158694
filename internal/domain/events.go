package domain

import (
	"github.com/ethereum/go-ethereum/common"
)

// Dispatcher topics. The contract event topics reuse the on-chain event
// names; the synthetic topics cover lifecycle notifications that have no
// ledger counterpart.
const (
	TopicSyncComplete  = "sync-complete"
	TopicOrderCreated  = "OrderCreated"
	TopicOrderFilled   = "OrderFilled"
	TopicOrderCanceled = "OrderCanceled"
	TopicOrdersUpdated = "ordersUpdated"
	TopicConnState     = "connection-state"
)

// EventMeta carries the emitting log's chain coordinates. It is informational
// only; ordering guarantees come from per-order arrival order, not from
// block position.
type EventMeta struct {
	BlockNumber uint64      `json:"block_number"`
	TxHash      common.Hash `json:"tx_hash"`
	LogIndex    uint        `json:"log_index"`
}

// LedgerEvent is the closed set of decoded contract events. The ledger-client
// boundary converts raw logs into these variants so nothing downstream
// touches transport-specific shapes.
type LedgerEvent interface {
	// Kind returns the dispatcher topic the event is published under.
	Kind() string
	// Meta returns the emitting log's chain coordinates.
	Meta() EventMeta
}

// OrderCreatedEvent announces a new order. The full record is carried so the
// cache can be updated without a follow-up fetch.
type OrderCreatedEvent struct {
	Order     OrderRecord
	EventMeta EventMeta
}

func (e OrderCreatedEvent) Kind() string    { return TopicOrderCreated }
func (e OrderCreatedEvent) Meta() EventMeta { return e.EventMeta }

// OrderFilledEvent announces that an existing order was taken.
type OrderFilledEvent struct {
	ID        uint64
	Taker     common.Address
	EventMeta EventMeta
}

func (e OrderFilledEvent) Kind() string    { return TopicOrderFilled }
func (e OrderFilledEvent) Meta() EventMeta { return e.EventMeta }

// OrderCanceledEvent announces that the maker withdrew an order.
type OrderCanceledEvent struct {
	ID        uint64
	EventMeta EventMeta
}

func (e OrderCanceledEvent) Kind() string    { return TopicOrderCanceled }
func (e OrderCanceledEvent) Meta() EventMeta { return e.EventMeta }

// OrdersCleanedEvent confirms that expired orders were pruned from the
// ledger. IDs the cache never held are tolerated.
type OrdersCleanedEvent struct {
	IDs       []uint64
	Caller    common.Address
	EventMeta EventMeta
}

func (e OrdersCleanedEvent) Kind() string    { return TopicOrdersUpdated }
func (e OrdersCleanedEvent) Meta() EventMeta { return e.EventMeta }
