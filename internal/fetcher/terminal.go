package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const (
	terminalStoreABIJSON = `[{"inputs":[{"internalType":"address","name":"terminal","type":"address"},{"internalType":"uint256","name":"projectId","type":"uint256"},{"internalType":"address","name":"token","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

	// NativeTokenAddress is the sentinel the terminals use for the chain's native asset.
	NativeTokenAddress = "0x000000000000000000000000000000000000EEEe"
)

var terminalStoreABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(terminalStoreABIJSON))
	if err != nil {
		panic("failed to parse terminal store ABI: " + err.Error())
	}
	terminalStoreABI = parsed
}

// TerminalOptions parameterise the on-chain balance reader.
type TerminalOptions struct {
	RPCURL          string
	StoreAddress    string
	TerminalAddress string
	TokenAddress    string
	Timeout         time.Duration
}

// Terminal reads recorded treasury balances from the terminal store contract.
type Terminal struct {
	opts      TerminalOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewTerminal builds a terminal balance reader.
func NewTerminal(opts TerminalOptions, logger zerolog.Logger) *Terminal {
	if opts.TokenAddress == "" {
		opts.TokenAddress = NativeTokenAddress
	}
	return &Terminal{opts: opts, logger: logger.With().Str("component", "terminal_fetcher").Logger()}
}

// Configured reports whether enough is set to issue calls.
func (t *Terminal) Configured() bool {
	return t != nil && t.opts.RPCURL != "" && t.opts.StoreAddress != "" && t.opts.TerminalAddress != ""
}

// FetchBalance calls balanceOf(terminal, projectId, token) on the store.
func (t *Terminal) FetchBalance(ctx context.Context, projectID int64) (*big.Int, uint64, error) {
	if t.opts.RPCURL == "" {
		return nil, 0, errors.New("ethereum rpc url not configured")
	}
	if t.opts.StoreAddress == "" || t.opts.TerminalAddress == "" {
		return nil, 0, errors.New("terminal store and terminal addresses required")
	}
	if projectID <= 0 {
		return nil, 0, fmt.Errorf("invalid project id %d", projectID)
	}

	timeout := t.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := t.getClient(ctx)
	if err != nil {
		return nil, 0, err
	}

	store := common.HexToAddress(t.opts.StoreAddress)
	payload, err := terminalStoreABI.Pack("balanceOf",
		common.HexToAddress(t.opts.TerminalAddress),
		big.NewInt(projectID),
		common.HexToAddress(t.opts.TokenAddress),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("pack balanceOf: %w", err)
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &store, Data: payload}, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("call balanceOf: %w", err)
	}

	balance, err := decodeBalance(res)
	if err != nil {
		return nil, 0, err
	}

	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("block number: %w", err)
	}

	t.logger.Debug().Int64("project_id", projectID).Str("balance", balance.String()).Uint64("block", blockNumber).Msg("fetched terminal balance")
	return balance, blockNumber, nil
}

func decodeBalance(res []byte) (*big.Int, error) {
	outputs, err := terminalStoreABI.Unpack("balanceOf", res)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	if len(outputs) != 1 {
		return nil, errors.New("unexpected balanceOf response")
	}
	balance, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode balanceOf output")
	}
	return balance, nil
}

func (t *Terminal) getClient(ctx context.Context) (*ethclient.Client, error) {
	t.clientMux.Lock()
	defer t.clientMux.Unlock()

	if t.client != nil {
		return t.client, nil
	}

	client, err := ethclient.DialContext(ctx, t.opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.opts.RPCURL, err)
	}
	t.client = client
	return client, nil
}

var _ TreasuryBalanceFetcher = (*Terminal)(nil)
