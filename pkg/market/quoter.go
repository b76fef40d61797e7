package market

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vegas-max/titan-arb/pkg/chains"
	"github.com/vegas-max/titan-arb/pkg/config"
	"github.com/vegas-max/titan-arb/pkg/types"
)

const (
	uniV2RouterABI = `[{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"}]`

	uniV3QuoterABI = `[{"inputs":[{"components":[{"internalType":"address","name":"tokenIn","type":"address"},{"internalType":"address","name":"tokenOut","type":"address"},{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint24","name":"fee","type":"uint24"},{"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],"internalType":"struct IQuoterV2.QuoteExactInputSingleParams","name":"params","type":"tuple"}],"name":"quoteExactInputSingle","outputs":[{"internalType":"uint256","name":"amountOut","type":"uint256"},{"internalType":"uint160","name":"sqrtPriceX96After","type":"uint160"},{"internalType":"uint32","name":"initializedTicksCrossed","type":"uint32"},{"internalType":"uint256","name":"gasEstimate","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}]`

	erc20BalanceABI = `[{"inputs":[{"internalType":"address","name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`
)

// Protocol ids matching the settlement contract's encoding.
const (
	ProtocolUniV2 uint8 = 0
	ProtocolUniV3 uint8 = 1
)

// Per-hop gas estimates used before simulation refines them.
const (
	gasUnitsV2Hop = 120_000
	gasUnitsV3Hop = 160_000
)

// Venue is a quotable DEX on a chain.
type Venue struct {
	ID       string
	ChainID  uint64
	Protocol uint8
	Router   common.Address
	Quoter   common.Address // V3 only
	FeeTier  uint32         // V3 only
}

// Quoter fetches swap quotes from on-chain routers via eth_call.
type Quoter struct {
	registry *chains.Registry
	v2ABI    abi.ABI
	v3ABI    abi.ABI
	erc20ABI abi.ABI
	venues   map[uint64][]Venue
}

// NewQuoter parses the router ABIs and indexes the configured venues.
func NewQuoter(registry *chains.Registry, cfg *config.Config) (*Quoter, error) {
	v2, err := abi.JSON(strings.NewReader(uniV2RouterABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse v2 router abi: %w", err)
	}
	v3, err := abi.JSON(strings.NewReader(uniV3QuoterABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse v3 quoter abi: %w", err)
	}
	erc20, err := abi.JSON(strings.NewReader(erc20BalanceABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 abi: %w", err)
	}

	q := &Quoter{
		registry: registry,
		v2ABI:    v2,
		v3ABI:    v3,
		erc20ABI: erc20,
		venues:   make(map[uint64][]Venue),
	}
	for _, ds := range cfg.DEXes {
		if !ds.Enabled {
			continue
		}
		v := Venue{
			ID:      ds.ID,
			ChainID: ds.ChainID,
			Router:  common.HexToAddress(ds.Router),
			FeeTier: uint32(ds.FeeTier),
		}
		switch strings.ToLower(ds.Protocol) {
		case "univ2":
			v.Protocol = ProtocolUniV2
		case "univ3":
			v.Protocol = ProtocolUniV3
			v.Quoter = common.HexToAddress(ds.Quoter)
		default:
			return nil, fmt.Errorf("venue %s: unknown protocol %q", ds.ID, ds.Protocol)
		}
		q.venues[ds.ChainID] = append(q.venues[ds.ChainID], v)
	}
	return q, nil
}

// Venues returns the quotable venues on a chain.
func (q *Quoter) Venues(chainID uint64) []Venue {
	return q.venues[chainID]
}

// Quote asks one venue for the output amount of a single swap.
func (q *Quoter) Quote(ctx context.Context, v Venue, tokenIn, tokenOut types.Token, amountIn *big.Int) (*types.Quote, error) {
	ch, ok := q.registry.Get(v.ChainID)
	if !ok {
		return nil, fmt.Errorf("chain %d not connected", v.ChainID)
	}

	var amountOut *big.Int
	err := ch.Call(ctx, func(cl *ethclient.Client) error {
		var err error
		switch v.Protocol {
		case ProtocolUniV3:
			amountOut, err = q.quoteV3(ctx, cl, v, tokenIn.Address, tokenOut.Address, amountIn)
		default:
			amountOut, err = q.quoteV2(ctx, cl, v, tokenIn.Address, tokenOut.Address, amountIn)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("quote %s %s->%s: %w", v.ID, tokenIn.Symbol, tokenOut.Symbol, err)
	}
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, fmt.Errorf("quote %s %s->%s: empty output", v.ID, tokenIn.Symbol, tokenOut.Symbol)
	}

	return &types.Quote{
		ChainID:   v.ChainID,
		DEX:       v.ID,
		TokenIn:   tokenIn.Address,
		TokenOut:  tokenOut.Address,
		AmountIn:  amountIn,
		AmountOut: amountOut,
		Timestamp: time.Now(),
	}, nil
}

func (q *Quoter) quoteV2(ctx context.Context, cl *ethclient.Client, v Venue, in, out common.Address, amountIn *big.Int) (*big.Int, error) {
	data, err := q.v2ABI.Pack("getAmountsOut", amountIn, []common.Address{in, out})
	if err != nil {
		return nil, err
	}
	res, err := cl.CallContract(ctx, ethereum.CallMsg{To: &v.Router, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	var amounts []*big.Int
	if err := q.v2ABI.UnpackIntoInterface(&amounts, "getAmountsOut", res); err != nil {
		return nil, err
	}
	if len(amounts) < 2 {
		return nil, fmt.Errorf("short getAmountsOut response")
	}
	return amounts[len(amounts)-1], nil
}

func (q *Quoter) quoteV3(ctx context.Context, cl *ethclient.Client, v Venue, in, out common.Address, amountIn *big.Int) (*big.Int, error) {
	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		AmountIn          *big.Int
		Fee               *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           in,
		TokenOut:          out,
		AmountIn:          amountIn,
		Fee:               big.NewInt(int64(v.FeeTier)),
		SqrtPriceLimitX96: big.NewInt(0),
	}
	data, err := q.v3ABI.Pack("quoteExactInputSingle", params)
	if err != nil {
		return nil, err
	}
	res, err := cl.CallContract(ctx, ethereum.CallMsg{To: &v.Quoter, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	outputs, err := q.v3ABI.Unpack("quoteExactInputSingle", res)
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("empty quoter response")
	}
	amountOut, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected quoter output type %T", outputs[0])
	}
	return amountOut, nil
}

// TokenBalance reads an ERC-20 balance via eth_call, used to size flash
// loans against the provider vault's actual depth.
func (q *Quoter) TokenBalance(ctx context.Context, chainID uint64, token, holder common.Address) (*big.Int, error) {
	ch, ok := q.registry.Get(chainID)
	if !ok {
		return nil, fmt.Errorf("chain %d not connected", chainID)
	}
	data, err := q.erc20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, err
	}
	var balance *big.Int
	err = ch.Call(ctx, func(cl *ethclient.Client) error {
		res, err := cl.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		if err != nil {
			return err
		}
		return q.erc20ABI.UnpackIntoInterface(&balance, "balanceOf", res)
	})
	if err != nil {
		return nil, fmt.Errorf("balance of %s on chain %d: %w", token.Hex(), chainID, err)
	}
	return balance, nil
}

// GasUnits returns the per-hop gas estimate for a protocol.
func GasUnits(protocol uint8) uint64 {
	if protocol == ProtocolUniV3 {
		return gasUnitsV3Hop
	}
	return gasUnitsV2Hop
}
