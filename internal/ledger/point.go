package ledger

import "math/big"

// EpochPoint is the state of a decay line as of the start of Epoch.
type EpochPoint struct {
	Bias  *big.Int
	Slope *big.Int
	Epoch uint64
}

func zeroPoint() EpochPoint {
	return EpochPoint{Bias: new(big.Int), Slope: new(big.Int), Epoch: 0}
}

// Clone returns a deep copy of the point.
func (p EpochPoint) Clone() EpochPoint {
	return EpochPoint{
		Bias:  new(big.Int).Set(p.Bias),
		Slope: new(big.Int).Set(p.Slope),
		Epoch: p.Epoch,
	}
}

// Calculate decays bias at the given per-second slope for d seconds,
// clamping at zero.
func Calculate(bias, slope *big.Int, d uint64) *big.Int {
	decayed := new(big.Int).Mul(slope, new(big.Int).SetUint64(d))
	out := new(big.Int).Sub(bias, decayed)
	if out.Sign() < 0 {
		return out.SetInt64(0)
	}
	return out
}
