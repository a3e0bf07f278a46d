package breaker

import "context"

// Do executes fn through the breaker and returns its result. Errors from fn
// pass through untouched; a rejected call returns the zero value and an
// *OpenError.
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// Wrap returns a function with the same signature as fn that routes every
// invocation through the breaker. Functions taking additional arguments are
// wrapped by closing over them at the call site.
func Wrap[T any](b *Breaker, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return Do(ctx, b, fn)
	}
}
