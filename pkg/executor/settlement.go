// Package executor consumes execution signals and settles them
// on-chain through the flash-arb settlement contract.
package executor

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vegas-max/titan-arb/pkg/types"
)

const settlementABI = `[{"inputs":[{"internalType":"uint8","name":"source","type":"uint8"},{"internalType":"address","name":"token","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"uint256","name":"minProfit","type":"uint256"},{"internalType":"uint256","name":"feeHint","type":"uint256"},{"internalType":"bytes","name":"routeData","type":"bytes"}],"name":"execute","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

// hopComponents describes the tuple layout the contract decodes from
// routeData.
var hopComponents = []abi.ArgumentMarshaling{
	{Name: "protocol", Type: "uint8"},
	{Name: "router", Type: "address"},
	{Name: "tokenOut", Type: "address"},
	{Name: "minOut", Type: "uint256"},
	{Name: "extra", Type: "bytes"},
}

// Settlement encodes calls to the settlement contract.
type Settlement struct {
	abi      abi.ABI
	hopsType abi.Type
}

// NewSettlement parses the contract ABI once.
func NewSettlement() (*Settlement, error) {
	parsed, err := abi.JSON(strings.NewReader(settlementABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse settlement abi: %w", err)
	}
	hopsType, err := abi.NewType("tuple[]", "", hopComponents)
	if err != nil {
		return nil, fmt.Errorf("failed to build hop tuple type: %w", err)
	}
	return &Settlement{abi: parsed, hopsType: hopsType}, nil
}

// abiHop mirrors hopComponents for the abi encoder.
type abiHop struct {
	Protocol uint8          `abi:"protocol"`
	Router   common.Address `abi:"router"`
	TokenOut common.Address `abi:"tokenOut"`
	MinOut   *big.Int       `abi:"minOut"`
	Extra    []byte         `abi:"extra"`
}

// EncodeRoute packs the signal's hops into routeData bytes.
func (s *Settlement) EncodeRoute(hops []types.SignalHop) ([]byte, error) {
	if len(hops) == 0 {
		return nil, fmt.Errorf("empty route")
	}
	encoded := make([]abiHop, 0, len(hops))
	for i, h := range hops {
		if h.MinOut == nil || h.MinOut.Sign() <= 0 {
			return nil, fmt.Errorf("hop %d has non-positive min output", i)
		}
		extra := h.Extra
		if extra == nil {
			extra = []byte{}
		}
		encoded = append(encoded, abiHop{
			Protocol: h.Protocol,
			Router:   h.Router,
			TokenOut: h.TokenOut,
			MinOut:   h.MinOut,
			Extra:    extra,
		})
	}
	args := abi.Arguments{{Type: s.hopsType}}
	return args.Pack(encoded)
}

// EncodeExecute builds the calldata for execute(). The fee hint lets
// the contract verify the flash provider's charge; expiry is enforced
// off-chain before this is ever called.
func (s *Settlement) EncodeExecute(sig *types.ExecutionSignal) ([]byte, error) {
	routeData, err := s.EncodeRoute(sig.Hops)
	if err != nil {
		return nil, err
	}
	minProfit := sig.Loan.MinProfit
	if minProfit == nil {
		minProfit = big.NewInt(0)
	}
	feeHint := sig.Loan.FeeHint
	if feeHint == nil {
		feeHint = big.NewInt(0)
	}
	return s.abi.Pack("execute",
		uint8(sig.Loan.Source),
		sig.Token.Address,
		sig.Loan.Amount,
		minProfit,
		feeHint,
		routeData,
	)
}
