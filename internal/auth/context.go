package auth

import (
	"context"

	"bidmarket/internal/app"
)

type ctxKey string

const envKey ctxKey = "env"

func WithEnv(ctx context.Context, e *app.Env) context.Context {
	return context.WithValue(ctx, envKey, e)
}

// EnvFromContext returns the browser environment bound by the Environment middleware.
func EnvFromContext(ctx context.Context) *app.Env {
	if v, ok := ctx.Value(envKey).(*app.Env); ok {
		return v
	}
	return nil
}
