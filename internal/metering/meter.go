// Package metering converts token counts into billed micro-currency cost.
package metering

import (
	"errors"
	"math/bits"
)

const (
	// MicroPerUnit is the number of micro-currency units in one currency unit.
	MicroPerUnit uint64 = 1_000_000
	// TokensPerMillion is the divisor applied to per-million token prices.
	TokensPerMillion uint64 = 1_000_000
	// DefaultMarginPPM is the margin applied on top of base cost, in parts per million (5%).
	DefaultMarginPPM uint64 = 50_000
)

// ErrCostOverflow is returned when a cost does not fit in 64 bits.
var ErrCostOverflow = errors.New("metering: cost overflow")

// ErrNegativeInput is returned when a token count or price is negative.
var ErrNegativeInput = errors.New("metering: negative input")

// Rate is the price schedule applied to one call. A zero Rate makes the call free.
type Rate struct {
	InputPerMillion  int64
	OutputPerMillion int64
}

// Cost is the billed amount of one call.
type Cost struct {
	InputMicro  int64
	OutputMicro int64
	BaseMicro   int64
	MarginMicro int64
}

// TotalMicro returns base plus margin.
func (c Cost) TotalMicro() int64 {
	return c.BaseMicro + c.MarginMicro
}

// ComputeCost prices a call with the default margin.
func ComputeCost(promptTokens, completionTokens int64, rate Rate) (Cost, error) {
	return ComputeCostWithMargin(promptTokens, completionTokens, rate, DefaultMarginPPM)
}

// ComputeCostWithMargin prices a call. Every division rounds up so fractional costs are never under-billed.
//
//	input  = ceil(prompt * inputPerMillion / 1e6)
//	output = ceil(completion * outputPerMillion / 1e6)
//	base   = input + output
//	margin = ceil(base * marginPPM / 1e6)
func ComputeCostWithMargin(promptTokens, completionTokens int64, rate Rate, marginPPM uint64) (Cost, error) {
	if promptTokens < 0 || completionTokens < 0 || rate.InputPerMillion < 0 || rate.OutputPerMillion < 0 {
		return Cost{}, ErrNegativeInput
	}

	input, errInput := mulCeilDiv(uint64(promptTokens), uint64(rate.InputPerMillion), TokensPerMillion)
	if errInput != nil {
		return Cost{}, errInput
	}
	output, errOutput := mulCeilDiv(uint64(completionTokens), uint64(rate.OutputPerMillion), TokensPerMillion)
	if errOutput != nil {
		return Cost{}, errOutput
	}
	base, carry := bits.Add64(input, output, 0)
	if carry != 0 {
		return Cost{}, ErrCostOverflow
	}
	margin, errMargin := mulCeilDiv(base, marginPPM, MicroPerUnit)
	if errMargin != nil {
		return Cost{}, errMargin
	}
	if _, carryTotal := bits.Add64(base, margin, 0); carryTotal != 0 || base+margin > maxInt64 {
		return Cost{}, ErrCostOverflow
	}

	return Cost{
		InputMicro:  int64(input),
		OutputMicro: int64(output),
		BaseMicro:   int64(base),
		MarginMicro: int64(margin),
	}, nil
}

const maxInt64 = uint64(1<<63 - 1)

// mulCeilDiv returns ceil(a*b/d) using a 128-bit intermediate product.
func mulCeilDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, errors.New("metering: zero divisor")
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, ErrCostOverflow
	}
	q, r := bits.Div64(hi, lo, d)
	if r != 0 {
		if q == ^uint64(0) {
			return 0, ErrCostOverflow
		}
		q++
	}
	return q, nil
}

// CeilDiv returns ceil(n/d) for non-negative n and positive d.
func CeilDiv(n, d int64) int64 {
	if d <= 0 || n <= 0 {
		return 0
	}
	return (n-1)/d + 1
}
