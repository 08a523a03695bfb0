package shm

import "context"

type exchangeKey struct{}

// WithExchange добавляет Exchange в контекст вызова задачи.
func WithExchange(ctx context.Context, e *Exchange) context.Context {
	return context.WithValue(ctx, exchangeKey{}, e)
}

// FromContext извлекает Exchange из контекста.
func FromContext(ctx context.Context) (*Exchange, bool) {
	e, ok := ctx.Value(exchangeKey{}).(*Exchange)
	return e, ok
}

// Read читает публикацию через Exchange из контекста.
func Read(ctx context.Context, segment string) (any, error) {
	e, ok := FromContext(ctx)
	if !ok {
		return nil, ErrNoExchange
	}
	return e.Read(segment)
}
