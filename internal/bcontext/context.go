package bcontext

import (
	"context"
)

type requestID struct{}

// WithRequestID adds request id to ctx
func WithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, requestID{}, rid)
}

// RequestID gets request id from context
func RequestID(ctx context.Context) string {
	rid, _ := ctx.Value(requestID{}).(string)
	return rid
}

type cycleID struct{}

// WithCycleID tags ctx with the number of the running reconcile cycle.
func WithCycleID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, cycleID{}, id)
}

// CycleID gets cycle number from context or zero.
func CycleID(ctx context.Context) uint64 {
	id, _ := ctx.Value(cycleID{}).(uint64)
	return id
}
