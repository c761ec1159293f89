/**
 * @description
 * Client for the on-chain subscription contract. Each request submits exactly one
 * transaction and then blocks until the transaction is mined, reverted, or the
 * confirmation wait runs out. Nothing is retried here; retry policy belongs to callers.
 */
package settlementclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// DefaultConfirmationTimeout bounds the wait for inclusion when none is configured.
const DefaultConfirmationTimeout = 2 * time.Minute

var (
	// ErrUnavailable means the RPC endpoint could not be reached.
	ErrUnavailable = errors.New("settlement backend unavailable")
	// ErrSubmit means the node rejected the transaction (bad nonce, no funds, revert on estimate).
	ErrSubmit = errors.New("transaction rejected")
	// ErrReverted means the transaction was mined but failed.
	ErrReverted = errors.New("transaction reverted")
	// ErrTimeout means the outcome is unknown: the transaction was submitted but not seen
	// mined in time and may still confirm later.
	ErrTimeout = errors.New("confirmation timed out")
)

// Failure is returned by every request that did not confirm.
type Failure struct {
	Op     string
	Reason string
	TxHash string
	Err    error
}

func (f *Failure) Error() string {
	if f.TxHash != "" {
		return fmt.Sprintf("%s failed (tx %s): %s", f.Op, f.TxHash, f.Reason)
	}
	return fmt.Sprintf("%s failed: %s", f.Op, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

// Confirmation describes a mined, successful transaction.
type Confirmation struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
	Event       *Event
}

// Event is a contract event decoded from the receipt, with every field rendered as text.
type Event struct {
	Name   string
	Fields map[string]string
}

// Config holds the settlement endpoint, signer and contract.
type Config struct {
	RPCURL              string
	PrivateKey          string
	ContractAddress     string
	ConfirmationTimeout time.Duration
}

type transactor interface {
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
}

type receiptWaiter func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

// Client submits subscribe, claim and cancel calls to the contract.
type Client struct {
	contract transactor
	wait     receiptWaiter
	abi      abi.ABI
	address  common.Address
	auth     *bind.TransactOpts
	timeout  time.Duration
	logger   *slog.Logger

	// submissions share one signer; serializing them keeps nonces from colliding
	submitMu sync.Mutex
	closeFn  func()
}

// NewClient dials the RPC endpoint and prepares a signer for the configured key.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, fmt.Errorf("settlement RPC URL is not configured")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial settlement backend: %w", err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	address := common.HexToAddress(cfg.ContractAddress)
	bound := bind.NewBoundContract(address, parsed, eth, eth, eth)
	waiter := func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		return bind.WaitMined(ctx, eth, tx)
	}

	c := newClient(bound, waiter, parsed, address, auth, cfg.ConfirmationTimeout, logger)
	c.closeFn = eth.Close
	return c, nil
}

func newClient(contract transactor, wait receiptWaiter, parsed abi.ABI, address common.Address, auth *bind.TransactOpts, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultConfirmationTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		contract: contract,
		wait:     wait,
		abi:      parsed,
		address:  address,
		auth:     auth,
		timeout:  timeout,
		logger:   logger.With("component", "settlement_client"),
	}
}

// SignerAddress is the account that signs and pays for scheduler transactions.
func (c *Client) SignerAddress() string {
	return c.auth.From.Hex()
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

// RequestSubscribe locks amount wei for provider. The metadata is passed through verbatim.
func (c *Client) RequestSubscribe(ctx context.Context, provider string, amount *big.Int, metadata []byte) (*Confirmation, error) {
	if !common.IsHexAddress(provider) {
		return nil, &Failure{Op: methodSubscribe, Reason: fmt.Sprintf("invalid provider address %q", provider), Err: ErrSubmit}
	}
	return c.execute(ctx, methodSubscribe, amount, common.HexToAddress(provider), metadata)
}

// RequestClaim releases amount wei to provider.
func (c *Client) RequestClaim(ctx context.Context, provider string, amount *big.Int) (*Confirmation, error) {
	if !common.IsHexAddress(provider) {
		return nil, &Failure{Op: methodClaim, Reason: fmt.Sprintf("invalid provider address %q", provider), Err: ErrSubmit}
	}
	return c.execute(ctx, methodClaim, nil, common.HexToAddress(provider), amount)
}

// RequestCancel refunds amount wei to user.
func (c *Client) RequestCancel(ctx context.Context, user string, amount *big.Int) (*Confirmation, error) {
	if !common.IsHexAddress(user) {
		return nil, &Failure{Op: methodCancel, Reason: fmt.Sprintf("invalid user address %q", user), Err: ErrSubmit}
	}
	return c.execute(ctx, methodCancel, nil, common.HexToAddress(user), amount)
}

func (c *Client) execute(ctx context.Context, method string, value *big.Int, params ...interface{}) (*Confirmation, error) {
	tx, err := c.submit(ctx, method, value, params...)
	if err != nil {
		return nil, &Failure{Op: method, Reason: err.Error(), Err: classifySubmitError(err)}
	}
	hash := tx.Hash().Hex()
	c.logger.Info("transaction submitted", "operation", method, "tx_hash", hash)

	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	receipt, err := c.wait(waitCtx, tx)
	if err != nil {
		if waitCtx.Err() != nil {
			c.logger.Warn("confirmation timed out; transaction may still land",
				"operation", method, "tx_hash", hash, "timeout", c.timeout.String(), "error", waitCtx.Err())
			return nil, &Failure{Op: method, Reason: "timeout", TxHash: hash, Err: ErrTimeout}
		}
		return nil, &Failure{Op: method, Reason: err.Error(), TxHash: hash, Err: ErrUnavailable}
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &Failure{Op: method, Reason: "transaction reverted on-chain", TxHash: hash, Err: ErrReverted}
	}

	conf := &Confirmation{
		TxHash:  hash,
		GasUsed: receipt.GasUsed,
		Event:   c.decodeEvent(eventForMethod[method], receipt.Logs),
	}
	if receipt.BlockNumber != nil {
		conf.BlockNumber = receipt.BlockNumber.Uint64()
	}
	c.logger.Info("transaction confirmed", "operation", method, "tx_hash", hash, "block", conf.BlockNumber)
	return conf, nil
}

func (c *Client) submit(ctx context.Context, method string, value *big.Int, params ...interface{}) (*types.Transaction, error) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	opts := *c.auth
	opts.Context = ctx
	opts.Value = value
	return c.contract.Transact(&opts, method, params...)
}

func classifySubmitError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrUnavailable
	}
	return ErrSubmit
}

func (c *Client) decodeEvent(name string, logs []*types.Log) *Event {
	ev, ok := c.abi.Events[name]
	if !ok {
		return nil
	}

	var indexed abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}

	for _, lg := range logs {
		if lg == nil || lg.Address != c.address || len(lg.Topics) == 0 || lg.Topics[0] != ev.ID {
			continue
		}

		values := make(map[string]interface{})
		if err := c.abi.UnpackIntoMap(values, name, lg.Data); err != nil {
			c.logger.Warn("failed to decode event data", "event", name, "error", err)
			return nil
		}
		if err := abi.ParseTopicsIntoMap(values, indexed, lg.Topics[1:]); err != nil {
			c.logger.Warn("failed to decode event topics", "event", name, "error", err)
			return nil
		}

		fields := make(map[string]string, len(values))
		for k, v := range values {
			fields[k] = formatValue(v)
		}
		return &Event{Name: name, Fields: fields}
	}
	return nil
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case *big.Int:
		return t.String()
	case common.Address:
		return t.Hex()
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
