package ledger

import "fmt"

// DefaultEpochDuration is one day in seconds.
const DefaultEpochDuration uint64 = 24 * 60 * 60

// Params fixes the time grid and conversion rate of a ledger. They are
// chosen once at genesis and never change afterwards.
type Params struct {
	// Genesis is t0, already truncated to an epoch boundary.
	Genesis       uint64
	EpochDuration uint64
	StakingFactor uint64
}

// NewParams truncates deployedAt down to an epoch boundary and returns the
// resulting Params.
func NewParams(deployedAt, epochDuration, stakingFactor uint64) (Params, error) {
	if epochDuration == 0 {
		return Params{}, fmt.Errorf("epoch duration must be positive")
	}
	if stakingFactor == 0 {
		return Params{}, fmt.Errorf("staking factor must be positive")
	}
	return Params{
		Genesis:       deployedAt - deployedAt%epochDuration,
		EpochDuration: epochDuration,
		StakingFactor: stakingFactor,
	}, nil
}

// Epoch returns the index of the epoch containing ts. Timestamps before
// genesis map to epoch 0.
func (p Params) Epoch(ts uint64) uint64 {
	if ts <= p.Genesis {
		return 0
	}
	return (ts - p.Genesis) / p.EpochDuration
}

// EpochStart returns the timestamp at which epoch e begins.
func (p Params) EpochStart(e uint64) uint64 {
	return p.Genesis + e*p.EpochDuration
}
