package rpc

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"computemesh/internal/infra/telemetry"
)

type requestContextServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *requestContextServerStream) Context() context.Context {
	return s.ctx
}

func requestContextUnaryServerInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, _ = ensureRequestMeta(ctx)
		start := time.Now()
		resp, err := handler(ctx, req)
		telemetry.LoggerWithRequest(ctx, logger).Debug("rpc call",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			telemetry.DurationField(time.Since(start)),
		)
		return resp, err
	}
}

func requestContextStreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, stream grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, _ := ensureRequestMeta(stream.Context())
		return handler(srv, &requestContextServerStream{ServerStream: stream, ctx: ctx})
	}
}

func ensureRequestMeta(ctx context.Context) (context.Context, telemetry.RequestMeta) {
	return telemetry.EnsureRequestMeta(ctx, requestIDFromMetadata(ctx))
}

func requestIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, value := range md.Get(telemetry.RequestIDHeader) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
