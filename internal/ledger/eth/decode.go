package eth

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/orderwatch/internal/domain"
)

// decodeLog converts one contract log into its domain event variant. Logs
// emitted by other contracts or unknown event signatures return
// domain.ErrUnknownEvent.
func (c *Client) decodeLog(lg types.Log) (domain.LedgerEvent, error) {
	if len(lg.Topics) == 0 {
		return nil, domain.ErrUnknownEvent
	}

	ev, err := c.abi.EventByID(lg.Topics[0])
	if err != nil {
		return nil, domain.ErrUnknownEvent
	}

	meta := domain.EventMeta{
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
	}

	switch ev.Name {
	case "OrderCreated":
		if len(lg.Topics) != 3 {
			return nil, fmt.Errorf("OrderCreated: want 3 topics, got %d", len(lg.Topics))
		}
		vals, err := c.abi.Unpack("OrderCreated", lg.Data)
		if err != nil {
			return nil, fmt.Errorf("OrderCreated: unpack: %w", err)
		}
		if len(vals) != 7 {
			return nil, fmt.Errorf("OrderCreated: want 7 data fields, got %d", len(vals))
		}
		rec := domain.OrderRecord{
			ID:         topicUint64(lg.Topics[1]),
			Maker:      topicAddress(lg.Topics[2]),
			Taker:      vals[0].(common.Address),
			SellToken:  vals[1].(common.Address),
			SellAmount: vals[2].(*big.Int),
			BuyToken:   vals[3].(common.Address),
			BuyAmount:  vals[4].(*big.Int),
			CreatedAt:  vals[5].(*big.Int).Uint64(),
			Fee:        vals[6].(*big.Int),
			Status:     domain.OrderStatusActive,
		}
		return domain.OrderCreatedEvent{Order: rec, EventMeta: meta}, nil

	case "OrderFilled":
		if len(lg.Topics) != 3 {
			return nil, fmt.Errorf("OrderFilled: want 3 topics, got %d", len(lg.Topics))
		}
		return domain.OrderFilledEvent{
			ID:        topicUint64(lg.Topics[1]),
			Taker:     topicAddress(lg.Topics[2]),
			EventMeta: meta,
		}, nil

	case "OrderCanceled":
		if len(lg.Topics) != 2 {
			return nil, fmt.Errorf("OrderCanceled: want 2 topics, got %d", len(lg.Topics))
		}
		return domain.OrderCanceledEvent{
			ID:        topicUint64(lg.Topics[1]),
			EventMeta: meta,
		}, nil

	case "OrdersCleaned":
		vals, err := c.abi.Unpack("OrdersCleaned", lg.Data)
		if err != nil {
			return nil, fmt.Errorf("OrdersCleaned: unpack: %w", err)
		}
		if len(vals) != 2 {
			return nil, fmt.Errorf("OrdersCleaned: want 2 data fields, got %d", len(vals))
		}
		raw := vals[0].([]*big.Int)
		ids := make([]uint64, 0, len(raw))
		for _, v := range raw {
			ids = append(ids, v.Uint64())
		}
		return domain.OrdersCleanedEvent{
			IDs:       ids,
			Caller:    vals[1].(common.Address),
			EventMeta: meta,
		}, nil

	default:
		return nil, domain.ErrUnknownEvent
	}
}

func topicUint64(h common.Hash) uint64 {
	return new(big.Int).SetBytes(h.Bytes()).Uint64()
}

func topicAddress(h common.Hash) common.Address {
	return common.BytesToAddress(h.Bytes())
}
