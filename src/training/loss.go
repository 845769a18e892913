package training

// MeanSquaredLoss evaluates a model over a dataset's training shard without
// going through a trainer. The centralized-evaluation helper uses it on
// models it does not own.
func MeanSquaredLoss(m *Model, ds Dataset) float64 {
	trainset := ds.Trainset()
	if len(trainset) == 0 {
		return 0
	}

	var loss float64
	for _, smp := range trainset {
		d := dot(m.Params(), smp.X) - smp.Y
		loss += d * d
	}
	return loss / float64(len(trainset))
}
