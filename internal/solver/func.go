package solver

import "context"

// Func adapts a function to domain.ChallengeSolver.
type Func func(ctx context.Context, image []byte) (string, error)

// Solve calls f.
func (f Func) Solve(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

// Echo returns the image bytes as text. It solves the challenges of the fake
// booking site used by tests and the demo.
var Echo = Func(func(ctx context.Context, image []byte) (string, error) {
	return string(image), nil
})
