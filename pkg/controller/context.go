package controller

import "context"

type ctxKey int

const ctxKeyUserID ctxKey = iota

// WithUserID attaches the authenticated uid to ctx. Called by pkg/auth
// once a request's Hawk credentials have been verified.
func WithUserID(ctx context.Context, uid int64) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, uid)
}

// UserIDFromContext reports the authenticated uid, if any.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	uid, ok := ctx.Value(ctxKeyUserID).(int64)
	return uid, ok
}
