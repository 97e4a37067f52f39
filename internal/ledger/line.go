package ledger

import (
	"math/big"
	"sort"
)

// Line is one decay ledger: a sparse, append-only checkpoint sequence and
// the schedule of slope changes keyed by epoch. The global pool and every
// identity own one each.
type Line struct {
	points       []EpochPoint
	slopeChanges map[uint64]*big.Int
}

func newLine() *Line {
	return &Line{
		points:       []EpochPoint{zeroPoint()},
		slopeChanges: make(map[uint64]*big.Int),
	}
}

// Len returns the number of materialized checkpoints.
func (l *Line) Len() int {
	return len(l.points)
}

// Last returns a copy of the latest checkpoint.
func (l *Line) Last() EpochPoint {
	return l.points[len(l.points)-1].Clone()
}

// Points returns copies of the checkpoints from index from onwards.
func (l *Line) Points(from int) []EpochPoint {
	if from < 0 {
		from = 0
	}
	if from >= len(l.points) {
		return nil
	}
	out := make([]EpochPoint, 0, len(l.points)-from)
	for _, p := range l.points[from:] {
		out = append(out, p.Clone())
	}
	return out
}

// SlopeChange returns the scheduled change at epoch e, zero if none.
func (l *Line) SlopeChange(e uint64) *big.Int {
	if d, ok := l.slopeChanges[e]; ok {
		return new(big.Int).Set(d)
	}
	return new(big.Int)
}

// SlopeChanges returns a copy of the whole schedule.
func (l *Line) SlopeChanges() map[uint64]*big.Int {
	out := make(map[uint64]*big.Int, len(l.slopeChanges))
	for e, d := range l.slopeChanges {
		out[e] = new(big.Int).Set(d)
	}
	return out
}

func (l *Line) slopeChangeRef(e uint64) *big.Int {
	if d, ok := l.slopeChanges[e]; ok {
		return d
	}
	return big.NewInt(0)
}

// changeEpochs returns the epochs in (after, upto] that carry a slope
// change, ascending.
func (l *Line) changeEpochs(after, upto uint64) []uint64 {
	var out []uint64
	for e, d := range l.slopeChanges {
		if e > after && e <= upto && d.Sign() != 0 {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// advance materializes checkpoints up to and including the epoch of now.
// Only the current epoch and epochs carrying a nonzero slope change get a
// point; the decay across skipped epochs is folded into the next one.
// It returns the number of points appended.
func (l *Line) advance(p Params, now uint64) int {
	last := l.points[len(l.points)-1]
	current := p.Epoch(now)
	if current <= last.Epoch {
		return 0
	}

	bias := new(big.Int).Set(last.Bias)
	slope := new(big.Int).Set(last.Slope)
	prevEpoch := last.Epoch
	appended := 0

	stops := l.changeEpochs(last.Epoch, current)
	if len(stops) == 0 || stops[len(stops)-1] != current {
		stops = append(stops, current)
	}
	for _, e := range stops {
		bias = Calculate(bias, slope, (e-prevEpoch)*p.EpochDuration)
		slope = new(big.Int).Add(slope, l.slopeChangeRef(e))
		l.points = append(l.points, EpochPoint{
			Bias:  new(big.Int).Set(bias),
			Slope: new(big.Int).Set(slope),
			Epoch: e,
		})
		prevEpoch = e
		appended++
	}
	return appended
}

// balanceAt evaluates the line at ts without mutating it. The forward walk
// only stops at epochs with a slope change, so its cost is bounded by the
// schedule rather than by the distance to ts.
func (l *Line) balanceAt(p Params, ts uint64) *big.Int {
	if ts < p.Genesis {
		return new(big.Int)
	}
	target := p.Epoch(ts)
	last := l.points[len(l.points)-1]

	if target >= last.Epoch {
		bias := new(big.Int).Set(last.Bias)
		slope := new(big.Int).Set(last.Slope)
		prevEpoch := last.Epoch
		for _, e := range l.changeEpochs(last.Epoch, target) {
			bias = Calculate(bias, slope, (e-prevEpoch)*p.EpochDuration)
			slope.Add(slope, l.slopeChangeRef(e))
			prevEpoch = e
		}
		return Calculate(bias, slope, ts-p.EpochStart(prevEpoch))
	}

	// Historical query: the latest point is known to be after target, so
	// only the earlier ones are searched. points[0] is at epoch 0, which
	// guarantees a hit.
	history := l.points[:len(l.points)-1]
	i := sort.Search(len(history), func(i int) bool {
		return history[i].Epoch > target
	}) - 1
	pt := history[i]
	return Calculate(pt.Bias, pt.Slope, ts-p.EpochStart(pt.Epoch))
}

// lock adds a new decay segment to the latest checkpoint and schedules its
// slope to be removed at endEpoch. The line must already be advanced to
// the current epoch.
func (l *Line) lock(bias, slope *big.Int, endEpoch uint64) {
	last := &l.points[len(l.points)-1]
	last.Bias = new(big.Int).Add(last.Bias, bias)
	last.Slope = new(big.Int).Add(last.Slope, slope)

	l.slopeChanges[endEpoch] = new(big.Int).Sub(l.slopeChangeRef(endEpoch), slope)
}
