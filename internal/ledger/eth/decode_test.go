package eth

import (
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/orderwatch/internal/domain"
)

var (
	testMaker = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testTaker = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func testClient(t *testing.T) *Client {
	t.Helper()
	parsed, err := exchangeABI()
	require.NoError(t, err)
	return &Client{
		abi:    parsed,
		logger: slog.New(slog.DiscardHandler),
	}
}

func idTopic(id uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(id))
}

func addrTopic(a common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(a.Bytes(), 32))
}

func TestDecodeOrderCreated(t *testing.T) {
	c := testClient(t)

	data, err := c.abi.Events["OrderCreated"].Inputs.NonIndexed().Pack(
		testTaker,
		common.HexToAddress("0x01"),
		big.NewInt(1000),
		common.HexToAddress("0x02"),
		big.NewInt(2000),
		big.NewInt(1700000000),
		big.NewInt(5),
	)
	require.NoError(t, err)

	ev, err := c.decodeLog(types.Log{
		Topics:      []common.Hash{c.abi.Events["OrderCreated"].ID, idTopic(42), addrTopic(testMaker)},
		Data:        data,
		BlockNumber: 99,
		Index:       3,
	})
	require.NoError(t, err)

	created, ok := ev.(domain.OrderCreatedEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(42), created.Order.ID)
	assert.Equal(t, testMaker, created.Order.Maker)
	assert.Equal(t, testTaker, created.Order.Taker)
	assert.Equal(t, big.NewInt(1000), created.Order.SellAmount)
	assert.Equal(t, big.NewInt(2000), created.Order.BuyAmount)
	assert.Equal(t, uint64(1700000000), created.Order.CreatedAt)
	assert.Equal(t, domain.OrderStatusActive, created.Order.Status)
	assert.Equal(t, uint64(99), created.Meta().BlockNumber)
}

func TestDecodeOrderFilled(t *testing.T) {
	c := testClient(t)

	ev, err := c.decodeLog(types.Log{
		Topics: []common.Hash{c.abi.Events["OrderFilled"].ID, idTopic(7), addrTopic(testTaker)},
	})
	require.NoError(t, err)

	filled, ok := ev.(domain.OrderFilledEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(7), filled.ID)
	assert.Equal(t, testTaker, filled.Taker)
}

func TestDecodeOrderCanceled(t *testing.T) {
	c := testClient(t)

	ev, err := c.decodeLog(types.Log{
		Topics: []common.Hash{c.abi.Events["OrderCanceled"].ID, idTopic(11)},
	})
	require.NoError(t, err)

	canceled, ok := ev.(domain.OrderCanceledEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(11), canceled.ID)
}

func TestDecodeOrdersCleaned(t *testing.T) {
	c := testClient(t)

	data, err := c.abi.Events["OrdersCleaned"].Inputs.NonIndexed().Pack(
		[]*big.Int{big.NewInt(5), big.NewInt(6)},
		testMaker,
	)
	require.NoError(t, err)

	ev, err := c.decodeLog(types.Log{
		Topics: []common.Hash{c.abi.Events["OrdersCleaned"].ID},
		Data:   data,
	})
	require.NoError(t, err)

	cleaned, ok := ev.(domain.OrdersCleanedEvent)
	require.True(t, ok)
	assert.Equal(t, []uint64{5, 6}, cleaned.IDs)
	assert.Equal(t, testMaker, cleaned.Caller)
}

func TestDecodeUnknownLog(t *testing.T) {
	c := testClient(t)

	_, err := c.decodeLog(types.Log{})
	assert.ErrorIs(t, err, domain.ErrUnknownEvent)

	_, err = c.decodeLog(types.Log{
		Topics: []common.Hash{common.HexToHash("0xdeadbeef")},
	})
	assert.ErrorIs(t, err, domain.ErrUnknownEvent)
}

func TestOrderFromTuple(t *testing.T) {
	rec, err := orderFromTuple(3, []any{
		testMaker, testTaker,
		common.HexToAddress("0x01"), big.NewInt(10),
		common.HexToAddress("0x02"), big.NewInt(20),
		big.NewInt(1700000000), big.NewInt(1),
		uint8(1), big.NewInt(2),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rec.ID)
	assert.Equal(t, domain.OrderStatusFilled, rec.Status)
	assert.Equal(t, uint64(2), rec.Attempts)
}

func TestOrderFromTupleZeroIsNotFound(t *testing.T) {
	_, err := orderFromTuple(9, []any{
		common.Address{}, common.Address{},
		common.Address{}, big.NewInt(0),
		common.Address{}, big.NewInt(0),
		big.NewInt(0), big.NewInt(0),
		uint8(0), big.NewInt(0),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
