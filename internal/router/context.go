package router

import "context"

type readOnlyKey struct{}

// WithReadOnly marks every connection obtained with the returned context as
// read-only traffic: it is routed to read replicas first and the connection
// is switched to read-only before it is handed back.
func WithReadOnly(ctx context.Context) context.Context {
	return context.WithValue(ctx, readOnlyKey{}, true)
}

// WithReadWrite clears a read-only mark set further up the call chain.
func WithReadWrite(ctx context.Context) context.Context {
	return context.WithValue(ctx, readOnlyKey{}, false)
}

// IsReadOnly reports whether ctx carries the read-only mark. The default is read/write.
func IsReadOnly(ctx context.Context) bool {
	ro, _ := ctx.Value(readOnlyKey{}).(bool)
	return ro
}
