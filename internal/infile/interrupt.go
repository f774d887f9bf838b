package infile

import "context"

// withNoInterrupt runs fn to completion regardless of ctx's
// cancellation, then surfaces the context's cancellation error
// afterward if fn itself returned no error. A Go process has no
// per-goroutine interrupt handler to swap out, so the mutation
// sequence simply finishes its mixed in-memory/on-disk edit before
// the caller's cancellation is allowed to surface: finish the atomic
// sequence, then report the pending interrupt.
func withNoInterrupt(ctx context.Context, fn func() error) error {
	err := fn()
	if err != nil {
		return err
	}
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
