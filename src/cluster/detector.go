package cluster

import (
	"math"

	"github.com/meshlearn/meshlearn/src/node"
)

// Detector decides, from the finished attempt's per-rank results, whether the
// run diverged and the group should be restarted with a fresh seed.
type Detector interface {
	Diverged(results map[int]*node.Results) bool
}

// LossThresholdDetector flags an attempt as diverged when any rank's most
// recent train loss is NaN, infinite, or above Threshold.
type LossThresholdDetector struct {
	Threshold float64
}

// Diverged implements the Detector interface.
func (d *LossThresholdDetector) Diverged(results map[int]*node.Results) bool {
	for _, res := range results {
		last := -1
		for it := range res.TrainLoss {
			if it > last {
				last = it
			}
		}
		if last < 0 {
			continue
		}

		loss := res.TrainLoss[last]
		if math.IsNaN(loss) || math.IsInf(loss, 0) || loss > d.Threshold {
			return true
		}
	}
	return false
}
