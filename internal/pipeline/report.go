package pipeline

import (
	"fmt"
	"sort"

	"github.com/aclements/go-moremath/stats"
)

// Report summarizes the register pressure of a function: the distribution of the maximum demand
// of its blocks, and the number of spill slots the allocator needed.
type Report struct {
	Blocks     int
	MinDemand  uint32
	MaxDemand  uint32
	Mean       float64
	StdDev     float64
	P90        float64
	SpillSlots uint32
}

func newReport(blockDemand []uint32) Report {
	r := Report{Blocks: len(blockDemand)}
	if len(blockDemand) == 0 {
		return r
	}
	xs := make([]float64, len(blockDemand))
	for i, d := range blockDemand {
		xs[i] = float64(d)
	}
	sort.Float64s(xs)
	sample := stats.Sample{Xs: xs, Sorted: true}
	min, max := sample.Bounds()
	r.MinDemand, r.MaxDemand = uint32(min), uint32(max)
	r.Mean = sample.Mean()
	if len(xs) > 1 {
		r.StdDev = sample.StdDev()
	}
	r.P90 = sample.Quantile(0.9)
	return r
}

// String implements fmt.Stringer.
func (r Report) String() string {
	return fmt.Sprintf("blocks=%d demand=[%d,%d] mean=%.2f stddev=%.2f p90=%.2f spill_slots=%d",
		r.Blocks, r.MinDemand, r.MaxDemand, r.Mean, r.StdDev, r.P90, r.SpillSlots)
}
