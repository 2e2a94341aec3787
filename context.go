package ecd

import (
	"context"

	"google.golang.org/grpc/metadata"
)

const requestIDKey = "request-id"

func outgoingContext(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, requestIDKey, requestID)
}

func valueFromIncomingContext(ctx context.Context, key string) string {
	md, hasMd := metadata.FromIncomingContext(ctx)
	if !hasMd {
		return ""
	}
	id := md.Get(key)
	if len(id) < 1 {
		return ""
	}
	return id[0]
}

func requestIDFromIncomingContext(ctx context.Context) string {
	return valueFromIncomingContext(ctx, requestIDKey)
}
