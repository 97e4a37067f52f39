package ledger

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLedger(t *testing.T, genesis, epoch, factor uint64) *Ledger {
	t.Helper()
	params, err := NewParams(genesis, epoch, factor)
	require.NoError(t, err)
	return New(params)
}

func assertBig(t *testing.T, want int64, got *big.Int, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, big.NewInt(want).String(), got.String(), msgAndArgs...)
}

func TestNewParamsTruncatesGenesis(t *testing.T) {
	p, err := NewParams(1_700_000_123, DefaultEpochDuration, 20)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), p.Genesis%DefaultEpochDuration)
	assert.LessOrEqual(t, p.Genesis, uint64(1_700_000_123))
	assert.Equal(t, uint64(0), p.Epoch(1_700_000_123))
	assert.Equal(t, uint64(1), p.Epoch(p.Genesis+DefaultEpochDuration))

	_, err = NewParams(0, 0, 20)
	assert.Error(t, err)
	_, err = NewParams(0, 10, 0)
	assert.Error(t, err)
}

func TestDepositScenario(t *testing.T) {
	// One time unit per epoch keeps the numbers readable: 2000 locked for
	// 20 epochs at factor 20.
	l := testLedger(t, 0, 1, 20)

	pos, err := l.Deposit("alice", big.NewInt(2000), 20, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pos.ID)
	assert.Equal(t, uint64(0), pos.Begin)
	assert.Equal(t, uint64(20), pos.End)

	bias, slope := l.InitialLine(big.NewInt(2000), 20)
	assertBig(t, 2000, bias)
	assertBig(t, 101, slope)

	assertBig(t, 2000, l.BalanceOfAt("alice", 0))
	assertBig(t, 990, l.BalanceOfAt("alice", 10))
	assertBig(t, 0, l.BalanceOfAt("alice", 20))
	assertBig(t, 990, l.TotalSupplyAt(10))
	assertBig(t, 0, l.TotalSupplyAt(20))

	assertBig(t, -101, l.Global().SlopeChange(20))
	assertBig(t, -101, l.Line("alice").SlopeChange(20))
}

func TestDepositRealisticUnits(t *testing.T) {
	l := testLedger(t, 1_700_000_000, DefaultEpochDuration, 20)
	p := l.Params()

	amount, _ := new(big.Int).SetString("2000000000000000000000", 10) // 2000 tokens
	duration := 20 * DefaultEpochDuration
	now := p.Genesis + 3*DefaultEpochDuration + 4000

	pos, err := l.Deposit("alice", amount, duration, now)
	require.NoError(t, err)
	assert.Equal(t, p.EpochStart(3), pos.Begin)
	assert.Equal(t, uint64(0), (pos.End-p.Genesis)%DefaultEpochDuration)

	assert.Equal(t, amount.String(), l.BalanceOfAt("alice", pos.Begin).String())
	assertBig(t, 0, l.BalanceOfAt("alice", pos.End))

	half, _ := new(big.Int).SetString("1000000000000000000000", 10)
	mid := l.BalanceOfAt("alice", pos.Begin+duration/2)
	assert.True(t, mid.Cmp(half) <= 0, "mid balance %s above half", mid)
	assert.True(t, new(big.Int).Sub(half, mid).Cmp(big.NewInt(int64(duration))) <= 0, "mid balance %s too low", mid)
}

func TestDepositMidEpoch(t *testing.T) {
	l := testLedger(t, 0, 10, 1)

	pos, err := l.Deposit("alice", big.NewInt(100), 20, 15)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), pos.Begin)
	assert.Equal(t, uint64(30), pos.End)

	// bias = 100*20/10 = 200, slope = 200/20 + 1 = 11
	assertBig(t, 200, l.BalanceOfAt("alice", 10))
	assertBig(t, 145, l.BalanceOfAt("alice", 15))
	assertBig(t, 35, l.BalanceOfAt("alice", 25))
	assertBig(t, 0, l.BalanceOfAt("alice", 30))
	assertBig(t, 0, l.BalanceOfAt("alice", 5))

	global := l.Global().Points(0)
	require.Len(t, global, 2)
	assert.Equal(t, uint64(1), global[1].Epoch)
	assertBig(t, 200, global[1].Bias)
	assertBig(t, 11, global[1].Slope)
}

func TestDepositValidation(t *testing.T) {
	l := testLedger(t, 0, 10, 1)

	tests := []struct {
		name     string
		identity string
		amount   *big.Int
		duration uint64
		want     error
	}{
		{"zero amount", "alice", big.NewInt(0), 10, ErrInvalidAmount},
		{"negative amount", "alice", big.NewInt(-5), 10, ErrInvalidAmount},
		{"nil amount", "alice", nil, 10, ErrInvalidAmount},
		{"zero duration", "alice", big.NewInt(5), 0, ErrInvalidDuration},
		{"partial epoch", "alice", big.NewInt(5), 15, ErrInvalidDuration},
		{"empty identity", "", big.NewInt(5), 10, ErrInvalidIdentity},
		{"wrapping duration", "alice", big.NewInt(5), math.MaxUint64 - math.MaxUint64%10, ErrInvalidDuration},
		{"end past int64", "alice", big.NewInt(5), math.MaxInt64 - math.MaxInt64%10, ErrInvalidDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Deposit(tt.identity, tt.amount, tt.duration, 25)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// Failed deposits leave no trace.
	assert.Equal(t, 1, l.Global().Len())
	assert.Empty(t, l.Identities())
	assert.Equal(t, uint64(1), l.NextPositionID())
}

func TestReleaseErrors(t *testing.T) {
	l := testLedger(t, 0, 10, 1)

	pos, err := l.Deposit("alice", big.NewInt(100), 20, 0)
	require.NoError(t, err)

	_, err = l.Release("alice", pos.ID, 19)
	assert.ErrorIs(t, err, ErrStillLocked)

	_, err = l.Release("bob", pos.ID, 25)
	assert.ErrorIs(t, err, ErrNotOwnerOrAlreadyReleased)

	_, err = l.Release("alice", 999, 25)
	assert.ErrorIs(t, err, ErrNotOwnerOrAlreadyReleased)

	released, err := l.Release("alice", pos.ID, 20)
	require.NoError(t, err)
	assert.Equal(t, "100", released.Balance.String())

	_, err = l.Release("alice", pos.ID, 30)
	assert.ErrorIs(t, err, ErrNotOwnerOrAlreadyReleased)

	// Ids are never reused.
	next, err := l.Deposit("alice", big.NewInt(100), 20, 30)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next.ID)
}

func TestTwoPositionsIndependent(t *testing.T) {
	l := testLedger(t, 0, 10, 1)

	first, err := l.Deposit("alice", big.NewInt(100), 30, 0)
	require.NoError(t, err)
	second, err := l.Deposit("alice", big.NewInt(100), 50, 15)
	require.NoError(t, err)

	_, s1 := l.InitialLine(big.NewInt(100), 30)
	_, s2 := l.InitialLine(big.NewInt(100), 50)

	line := l.Line("alice")
	assert.Equal(t, new(big.Int).Neg(s1).String(), line.SlopeChange(3).String())
	assert.Equal(t, new(big.Int).Neg(s2).String(), line.SlopeChange(6).String())

	before := make(map[uint64]string)
	for ts := uint64(30); ts <= 70; ts++ {
		before[ts] = l.BalanceOfAt("alice", ts).String()
	}

	_, err = l.Release("alice", first.ID, 35)
	require.NoError(t, err)

	for ts := uint64(30); ts <= 70; ts++ {
		assert.Equal(t, before[ts], l.BalanceOfAt("alice", ts).String(), "ts=%d", ts)
	}

	remaining := l.PositionsOf("alice")
	require.Len(t, remaining, 1)
	assert.Equal(t, second.ID, remaining[0].ID)
}

func TestMonotonicDecay(t *testing.T) {
	l := testLedger(t, 0, 10, 1)

	_, err := l.Deposit("alice", big.NewInt(1000), 100, 0)
	require.NoError(t, err)
	_, err = l.Deposit("bob", big.NewInt(500), 50, 25)
	require.NoError(t, err)

	prev := l.TotalSupplyAt(25)
	for ts := uint64(26); ts <= 150; ts++ {
		cur := l.TotalSupplyAt(ts)
		assert.True(t, cur.Cmp(prev) <= 0, "supply rose at ts=%d: %s > %s", ts, cur, prev)
		prev = cur
	}
	assertBig(t, 0, l.TotalSupplyAt(100))
}

func TestGlobalEqualsSumOfIdentities(t *testing.T) {
	l := testLedger(t, 0, 10, 1)

	_, err := l.Deposit("alice", big.NewInt(1000), 100, 0)
	require.NoError(t, err)
	_, err = l.Deposit("bob", big.NewInt(500), 50, 25)
	require.NoError(t, err)

	check := func() {
		// Both lines stay positive until bob's crosses zero shortly before 70.
		for ts := uint64(25); ts < 69; ts++ {
			sum := new(big.Int).Add(l.BalanceOfAt("alice", ts), l.BalanceOfAt("bob", ts))
			assert.Equal(t, sum.String(), l.TotalSupplyAt(ts).String(), "ts=%d", ts)
		}
	}
	check()
	assertBig(t, 7440, l.TotalSupplyAt(40))

	l.Checkpoint(68)
	l.CheckpointIdentity("alice", 68)
	l.CheckpointIdentity("bob", 68)
	check()
}

func TestCheckpointIdempotent(t *testing.T) {
	l := testLedger(t, 0, 10, 1)

	_, err := l.Deposit("alice", big.NewInt(100), 20, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, l.Checkpoint(55))
	points := l.Global().Points(0)

	assert.Equal(t, 0, l.Checkpoint(55))
	assert.Equal(t, points, l.Global().Points(0))

	// Only the expiry epoch and the current epoch are materialized.
	require.Len(t, points, 3)
	assert.Equal(t, uint64(2), points[1].Epoch)
	assert.Equal(t, uint64(5), points[2].Epoch)
	assertBig(t, 0, points[2].Slope)

	assert.Equal(t, 0, l.CheckpointIdentity("nobody", 55))
}

func TestHistoricalQueryConsistency(t *testing.T) {
	l := testLedger(t, 0, 10, 1)

	_, err := l.Deposit("alice", big.NewInt(100), 20, 15)
	require.NoError(t, err)
	_, err = l.Deposit("bob", big.NewInt(300), 40, 22)
	require.NoError(t, err)

	forward := make(map[uint64]string)
	for ts := uint64(0); ts <= 80; ts++ {
		forward[ts] = l.TotalSupplyAt(ts).String()
	}
	aliceForward := make(map[uint64]string)
	for ts := uint64(0); ts <= 80; ts++ {
		aliceForward[ts] = l.BalanceOfAt("alice", ts).String()
	}

	l.Checkpoint(200)
	l.CheckpointIdentity("alice", 200)
	require.Greater(t, l.Global().Len(), 3)

	for ts := uint64(0); ts <= 80; ts++ {
		assert.Equal(t, forward[ts], l.TotalSupplyAt(ts).String(), "supply ts=%d", ts)
		assert.Equal(t, aliceForward[ts], l.BalanceOfAt("alice", ts).String(), "alice ts=%d", ts)
	}
}

func TestBalanceBeforeGenesis(t *testing.T) {
	l := testLedger(t, 1000, 10, 1)

	_, err := l.Deposit("alice", big.NewInt(100), 20, 1005)
	require.NoError(t, err)

	assertBig(t, 0, l.TotalSupplyAt(999))
	assertBig(t, 0, l.BalanceOfAt("alice", 10))
	assertBig(t, 0, l.BalanceOfAt("nobody", 1005))
}

func TestBalanceFarFuture(t *testing.T) {
	l := testLedger(t, 1000, 10, 1)

	// 100 locked for a million epochs: bias 10^8, slope 11.
	_, err := l.Deposit("alice", big.NewInt(100), 10_000_000, 1015)
	require.NoError(t, err)
	_, err = l.Deposit("bob", big.NewInt(300), 40, 1042)
	require.NoError(t, err)

	assertBig(t, 45_000_000, l.BalanceOfAt("alice", 1010+5_000_000))
	assertBig(t, 0, l.BalanceOfAt("alice", 1010+10_000_000))
	assertBig(t, 0, l.TotalSupplyAt(math.MaxUint64))
	assertBig(t, 0, l.BalanceOfAt("alice", math.MaxUint64))
	assertBig(t, 0, l.BalanceOfAt("bob", math.MaxUint64))
}

func TestAdvanceSkipsEmptyEpochs(t *testing.T) {
	l := testLedger(t, 1000, 10, 1)

	_, err := l.Deposit("alice", big.NewInt(100), 20, 1015)
	require.NoError(t, err)

	// Only the expiry epoch and the current one are materialized.
	assert.Equal(t, 2, l.Checkpoint(1000+10*1_000_000))
	last := l.Global().Last()
	assert.Equal(t, uint64(1_000_000), last.Epoch)
	assertBig(t, 0, last.Bias)
	assertBig(t, 0, last.Slope)
}

func TestCalculateClamps(t *testing.T) {
	assertBig(t, 40, Calculate(big.NewInt(100), big.NewInt(3), 20))
	assertBig(t, 0, Calculate(big.NewInt(100), big.NewInt(3), 40))
	assertBig(t, 100, Calculate(big.NewInt(100), big.NewInt(0), 1000))
}
