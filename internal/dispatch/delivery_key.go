package dispatch

import "context"

type deliveryKeyCtx struct{}

// WithDeliveryKey returns a copy of ctx carrying key. Every attempt of one
// Dispatch call shares the key so a channel can drop repeated sends.
func WithDeliveryKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, deliveryKeyCtx{}, key)
}

// DeliveryKey returns the delivery key carried by ctx, or ""
func DeliveryKey(ctx context.Context) string {
	key, _ := ctx.Value(deliveryKeyCtx{}).(string)
	return key
}
