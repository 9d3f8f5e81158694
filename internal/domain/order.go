// Package domain defines the core types shared across orderwatch: the order
// record held in the local cache, the closed set of ledger events, and the
// interfaces the remote ledger boundary must satisfy.
package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OrderStatus tracks the on-chain order lifecycle. Transitions are monotone:
// an order leaves Active exactly once and never returns.
type OrderStatus uint8

const (
	OrderStatusActive OrderStatus = iota
	OrderStatusFilled
	OrderStatusCanceled
)

// String returns the lowercase wire name used in JSON payloads and query
// string filters.
func (s OrderStatus) String() string {
	switch s {
	case OrderStatusActive:
		return "active"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is a final state.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled
}

// ParseOrderStatus converts a wire name back into an OrderStatus.
func ParseOrderStatus(v string) (OrderStatus, bool) {
	switch v {
	case "active":
		return OrderStatusActive, true
	case "filled":
		return OrderStatusFilled, true
	case "canceled":
		return OrderStatusCanceled, true
	default:
		return 0, false
	}
}

// MarshalText implements encoding.TextMarshaler so the status renders as its
// wire name in JSON.
func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *OrderStatus) UnmarshalText(b []byte) error {
	parsed, ok := ParseOrderStatus(string(b))
	if !ok {
		return ErrInvalidStatus
	}
	*s = parsed
	return nil
}

// OrderRecord is a single exchange order as recorded on the ledger contract.
// IDs are assigned monotonically by the contract and never reused.
type OrderRecord struct {
	ID         uint64         `json:"id"`
	Maker      common.Address `json:"maker"`
	Taker      common.Address `json:"taker"` // zero address means open to any taker
	SellToken  common.Address `json:"sell_token"`
	SellAmount *big.Int       `json:"sell_amount"`
	BuyToken   common.Address `json:"buy_token"`
	BuyAmount  *big.Int       `json:"buy_amount"`
	CreatedAt  uint64         `json:"created_at"` // unix seconds
	Fee        *big.Int       `json:"fee"`
	Status     OrderStatus    `json:"status"`
	Attempts   uint64         `json:"attempts"` // ledger-side retry counter
}

// Open reports whether the order is one a consumer might still act on: an
// Active order with a real maker. Full resync keeps only open orders.
func (r OrderRecord) Open() bool {
	return r.Status == OrderStatusActive && r.Maker != (common.Address{})
}

// OpenToAnyTaker reports whether the order can be filled by any account.
func (r OrderRecord) OpenToAnyTaker() bool {
	return r.Taker == (common.Address{})
}

// Valid reports whether the record is well-formed enough to cache. The ledger
// is the source of truth, so validation stays minimal: amounts must be
// present. The decoding boundary never produces nil amounts, but records
// arriving through Upsert from other callers are checked.
func (r OrderRecord) Valid() bool {
	return r.SellAmount != nil && r.BuyAmount != nil
}

// CleanupEligibility is the result of a cleanup-eligibility check against the
// expiry window. Record is the ledger's current view of the order.
type CleanupEligibility struct {
	Eligible bool        `json:"eligible"`
	Record   OrderRecord `json:"record"`
	AgeSecs  uint64      `json:"age_secs"`
}
