// Package chain reads wallet balances from an Ethereum node.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"swap_rates/internal/domain"
)

const erc20ABI = `[
 {"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// Backend is the part of ethclient.Client the provider uses.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// BalanceProvider implements domain.BalanceProvider against the latest block.
type BalanceProvider struct {
	backend Backend
	erc20   abi.ABI
	logger  *slog.Logger
	closer  func()
}

var _ domain.BalanceProvider = (*BalanceProvider)(nil)

func NewBalanceProvider(backend Backend, logger *slog.Logger) (*BalanceProvider, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default().With("module", "chain")
	}
	return &BalanceProvider{backend: backend, erc20: parsed, logger: logger}, nil
}

// Dial connects to rpcURL and returns a provider owning the connection.
func Dial(ctx context.Context, rpcURL string, logger *slog.Logger) (*BalanceProvider, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, domain.NewNetworkError("rpc_dial", err)
	}
	p, err := NewBalanceProvider(ec, logger)
	if err != nil {
		ec.Close()
		return nil, err
	}
	p.closer = ec.Close
	return p, nil
}

func (p *BalanceProvider) Close() {
	if p.closer != nil {
		p.closer()
	}
}

// Balances returns the balance of every token, keyed by token address.
// Tokens whose lookup fails are left out; an error is returned only when
// no balance could be read at all.
func (p *BalanceProvider) Balances(ctx context.Context, wallet common.Address, tokens []domain.Token) (map[common.Address]*big.Int, error) {
	out := make(map[common.Address]*big.Int, len(tokens))
	var errs []error
	for _, t := range tokens {
		if _, seen := out[t.Address]; seen {
			continue
		}
		bal, err := p.balanceOf(ctx, wallet, t)
		if err != nil {
			p.logger.Warn("Balance lookup failed",
				slog.String("token", t.Symbol),
				slog.String("wallet", wallet.Hex()),
				slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", t.Symbol, err))
			continue
		}
		out[t.Address] = bal
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (p *BalanceProvider) balanceOf(ctx context.Context, wallet common.Address, t domain.Token) (*big.Int, error) {
	if t.IsETH() {
		return p.backend.BalanceAt(ctx, wallet, nil)
	}

	data, err := p.erc20.Pack("balanceOf", wallet)
	if err != nil {
		return nil, err
	}
	to := t.Address
	raw, err := p.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	outs, err := p.erc20.Methods["balanceOf"].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		return nil, errors.New("decode balanceOf")
	}
	bal, ok := outs[0].(*big.Int)
	if !ok {
		return nil, errors.New("unexpected balanceOf type")
	}
	return bal, nil
}
