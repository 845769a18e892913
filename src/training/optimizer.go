package training

// Optimizer applies gradients to a parameter vector. Reset discards any
// internal state, which nodes may do after every exchange when configured
// with the reset-optimizer flag.
type Optimizer interface {
	Step(params, grads []float64)
	Reset()
}

// SGD is stochastic gradient descent with momentum.
type SGD struct {
	LR       float64
	Momentum float64

	velocity []float64
}

// NewSGD returns an SGD optimizer.
func NewSGD(lr, momentum float64) *SGD {
	return &SGD{LR: lr, Momentum: momentum}
}

// Step implements the Optimizer interface.
func (o *SGD) Step(params, grads []float64) {
	if o.velocity == nil {
		o.velocity = make([]float64, len(params))
	}
	for i := range params {
		o.velocity[i] = o.Momentum*o.velocity[i] + grads[i]
		params[i] -= o.LR * o.velocity[i]
	}
}

// Reset implements the Optimizer interface.
func (o *SGD) Reset() {
	o.velocity = nil
}
