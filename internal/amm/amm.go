// Package amm implements constant-product swap pricing shared by every venue
// adapter and by the simulated pools.
package amm

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// FeeDenominator is the basis-point scale of venue fees.
const FeeDenominator = 10000

// AmountOut returns the output of swapping amountIn into a pool holding
// reserveIn of the input token and reserveOut of the output token, charging
// feeBps basis points on the input:
//
//	out = in*(10000-f)*reserveOut / (reserveIn*10000 + in*(10000-f))
//
// Intermediates are 256-bit and the result is truncated once. The result is
// always strictly below reserveOut and zero for a zero input.
func AmountOut(amountIn, reserveIn, reserveOut int64, feeBps uint32) (int64, error) {
	if amountIn < 0 {
		return 0, fmt.Errorf("amm: %w: negative input %d", domain.ErrInput, amountIn)
	}
	if reserveIn <= 0 || reserveOut <= 0 {
		return 0, fmt.Errorf("amm: %w: reserves must be positive (in=%d out=%d)", domain.ErrInput, reserveIn, reserveOut)
	}
	if feeBps >= FeeDenominator {
		return 0, fmt.Errorf("amm: %w: fee %d bps", domain.ErrInput, feeBps)
	}

	inWithFee := new(uint256.Int).Mul(
		uint256.NewInt(uint64(amountIn)),
		uint256.NewInt(uint64(FeeDenominator-feeBps)),
	)
	num := new(uint256.Int).Mul(inWithFee, uint256.NewInt(uint64(reserveOut)))
	den := new(uint256.Int).Mul(uint256.NewInt(uint64(reserveIn)), uint256.NewInt(FeeDenominator))
	den.Add(den, inWithFee)

	return int64(new(uint256.Int).Div(num, den).Uint64()), nil
}

// Pool is a constant-product pool state.
type Pool struct {
	Reserve0 int64
	Reserve1 int64
	FeeBps   uint32
}

// Swap returns the output for amountIn of token0 (zeroForOne) or token1 and
// the pool state after the swap.
func (p Pool) Swap(amountIn int64, zeroForOne bool) (int64, Pool, error) {
	rIn, rOut := p.Reserve0, p.Reserve1
	if !zeroForOne {
		rIn, rOut = rOut, rIn
	}
	out, err := AmountOut(amountIn, rIn, rOut, p.FeeBps)
	if err != nil {
		return 0, p, err
	}
	if rIn > domain.MaxAssetAmount-amountIn {
		return 0, p, fmt.Errorf("amm: %w: reserve overflow", domain.ErrAssetOverflow)
	}
	next := p
	if zeroForOne {
		next.Reserve0 += amountIn
		next.Reserve1 -= out
	} else {
		next.Reserve1 += amountIn
		next.Reserve0 -= out
	}
	return out, next, nil
}
