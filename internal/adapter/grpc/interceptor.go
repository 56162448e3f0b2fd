package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/tracefund/trace-backend/internal/domain"
)

// Metadata keys carrying the viewer identity
const (
	viewerAddressKey  = "x-viewer-address"
	viewerCurrencyKey = "x-viewer-currency"
	viewerSessionKey  = "x-viewer-session"

	defaultViewerCurrency = "USD"
)

type viewerKey struct{}

// WithViewer returns a context carrying the viewer
func WithViewer(ctx context.Context, viewer domain.Viewer) context.Context {
	return context.WithValue(ctx, viewerKey{}, viewer)
}

// ViewerFromContext returns the viewer attached by AuthInterceptor.
// A request without viewer metadata is anonymous.
func ViewerFromContext(ctx context.Context) domain.Viewer {
	viewer, _ := ctx.Value(viewerKey{}).(domain.Viewer)
	return viewer
}

// AuthInterceptor returns a gRPC unary server interceptor that validates
// the authorization token from request metadata.
// If the token is missing or invalid, it returns status.Unauthenticated.
// If valid, the viewer metadata is attached to the context before calling the handler.
func AuthInterceptor(validToken string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing authorization header")
		}

		if strings.TrimPrefix(authHeaders[0], "Bearer ") != validToken {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}

		return handler(WithViewer(ctx, viewerFromMetadata(md)), req)
	}
}

func viewerFromMetadata(md metadata.MD) domain.Viewer {
	first := func(key string) string {
		if v := md.Get(key); len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	viewer := domain.Viewer{
		Address:        first(viewerAddressKey),
		SessionToken:   first(viewerSessionKey),
		NativeCurrency: strings.ToUpper(first(viewerCurrencyKey)),
	}
	if viewer.Address != "" && viewer.NativeCurrency == "" {
		viewer.NativeCurrency = defaultViewerCurrency
	}
	return viewer
}
