// Package eth implements the remote ledger boundary against an Ethereum
// exchange contract. Bulk queries go through ABI-packed eth_calls; push
// events arrive as contract logs decoded here into the domain's closed event
// set, so nothing outside this package touches transport shapes.
package eth

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/orderwatch/internal/domain"
)

// Client talks to one exchange contract over a WebSocket RPC endpoint. It
// implements domain.LedgerReader and produces domain.LedgerSession values
// via Subscribe.
type Client struct {
	rpc      *rpc.Client
	eth      *ethclient.Client
	contract common.Address
	abi      abi.ABI
	logger   *slog.Logger
}

// Dial connects to the RPC endpoint and prepares the contract ABI. The
// endpoint must support subscriptions (ws:// or wss://) for Subscribe to
// work.
func Dial(ctx context.Context, rawURL string, contract common.Address, logger *slog.Logger) (*Client, error) {
	parsed, err := exchangeABI()
	if err != nil {
		return nil, fmt.Errorf("eth: parse abi: %w", err)
	}

	rpcClient, err := rpc.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("eth: dial %s: %w", rawURL, err)
	}

	return &Client{
		rpc:      rpcClient,
		eth:      ethclient.NewClient(rpcClient),
		contract: contract,
		abi:      parsed,
		logger:   logger.With(slog.String("component", "eth_ledger")),
	}, nil
}

// Close tears down the underlying RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// NextOrderID returns the contract's order-id allocation bound.
func (c *Client) NextOrderID(ctx context.Context) (uint64, error) {
	data, err := c.abi.Pack("nextOrderId")
	if err != nil {
		return 0, fmt.Errorf("eth: pack nextOrderId: %w", err)
	}

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("eth: call nextOrderId: %w", err)
	}

	vals, err := c.abi.Unpack("nextOrderId", out)
	if err != nil {
		return 0, fmt.Errorf("eth: unpack nextOrderId: %w", err)
	}
	bound, ok := vals[0].(*big.Int)
	if !ok || !bound.IsUint64() {
		return 0, fmt.Errorf("eth: nextOrderId out of range")
	}
	return bound.Uint64(), nil
}

// OrderByID fetches one order tuple from the contract's order book. The
// contract returns an all-zero tuple for ids it never allocated; that maps
// to domain.ErrNotFound.
func (c *Client) OrderByID(ctx context.Context, id uint64) (domain.OrderRecord, error) {
	data, err := c.abi.Pack("orders", new(big.Int).SetUint64(id))
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("eth: pack orders(%d): %w", id, err)
	}

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("eth: call orders(%d): %w", id, err)
	}
	if len(out) == 0 {
		return domain.OrderRecord{}, domain.ErrNotFound
	}

	vals, err := c.abi.Unpack("orders", out)
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("eth: unpack orders(%d): %w", id, err)
	}

	rec, err := orderFromTuple(id, vals)
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("eth: orders(%d): %w", id, err)
	}
	return rec, nil
}

// orderFromTuple maps the decoded orders() output onto an OrderRecord.
func orderFromTuple(id uint64, vals []any) (domain.OrderRecord, error) {
	if len(vals) != 10 {
		return domain.OrderRecord{}, fmt.Errorf("unexpected tuple arity %d", len(vals))
	}

	maker, ok0 := vals[0].(common.Address)
	taker, ok1 := vals[1].(common.Address)
	sellToken, ok2 := vals[2].(common.Address)
	sellAmount, ok3 := vals[3].(*big.Int)
	buyToken, ok4 := vals[4].(common.Address)
	buyAmount, ok5 := vals[5].(*big.Int)
	createdAt, ok6 := vals[6].(*big.Int)
	fee, ok7 := vals[7].(*big.Int)
	status, ok8 := vals[8].(uint8)
	attempts, ok9 := vals[9].(*big.Int)
	if !(ok0 && ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8 && ok9) {
		return domain.OrderRecord{}, fmt.Errorf("unexpected tuple field types")
	}

	if maker == (common.Address{}) && createdAt.Sign() == 0 {
		return domain.OrderRecord{}, domain.ErrNotFound
	}
	if status > uint8(domain.OrderStatusCanceled) {
		return domain.OrderRecord{}, domain.ErrInvalidStatus
	}

	return domain.OrderRecord{
		ID:         id,
		Maker:      maker,
		Taker:      taker,
		SellToken:  sellToken,
		SellAmount: sellAmount,
		BuyToken:   buyToken,
		BuyAmount:  buyAmount,
		CreatedAt:  createdAt.Uint64(),
		Fee:        fee,
		Status:     domain.OrderStatus(status),
		Attempts:   attempts.Uint64(),
	}, nil
}

// Subscribe opens one ledger session: a contract log subscription plus a
// new-head subscription used as the liveness signal.
func (c *Client) Subscribe(ctx context.Context) (domain.LedgerSession, error) {
	logs := make(chan types.Log, 256)
	logSub, err := c.eth.SubscribeFilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
	}, logs)
	if err != nil {
		return nil, fmt.Errorf("eth: subscribe logs: %w", err)
	}

	heads := make(chan *types.Header, 8)
	headSub, err := c.eth.SubscribeNewHead(ctx, heads)
	if err != nil {
		logSub.Unsubscribe()
		return nil, fmt.Errorf("eth: subscribe heads: %w", err)
	}

	s := newSession(c, logs, logSub, heads, headSub)
	go s.run()
	return s, nil
}
