// Package authgrpc adapts the token authentication core to gRPC transports.
// It mirrors the HTTP bearer middleware: the token comes from the
// "authorization" metadata key, the principal is re-resolved per call, and
// taxonomy codes map onto gRPC status codes.
package authgrpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"carbontrace.io/internal/auth"
)

const bearerPrefix = "bearer "

// Interceptor authenticates unary and stream calls against the auth service.
type Interceptor struct {
	svc    *auth.Service
	public map[string]struct{}
	perms  map[string][]string
}

// Option configures Interceptor.
type Option func(*Interceptor)

// WithPublicMethods exempts full method names ("/pkg.Service/Method") from
// authentication.
func WithPublicMethods(methods ...string) Option {
	return func(i *Interceptor) {
		for _, m := range methods {
			i.public[m] = struct{}{}
		}
	}
}

// WithMethodPermissions requires the principal to hold at least one of the
// listed permissions for the given full method name.
func WithMethodPermissions(method string, permissions ...string) Option {
	return func(i *Interceptor) {
		i.perms[method] = permissions
	}
}

// New builds an interceptor over the auth service.
func New(svc *auth.Service, opts ...Option) *Interceptor {
	i := &Interceptor{
		svc:    svc,
		public: map[string]struct{}{},
		perms:  map[string][]string{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Unary returns the unary server interceptor.
func (i *Interceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := i.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// Stream returns the stream server interceptor.
func (i *Interceptor) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := i.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, principalStream{ServerStream: ss, ctx: ctx})
	}
}

func (i *Interceptor) authorize(ctx context.Context, fullMethod string) (context.Context, error) {
	if _, ok := i.public[fullMethod]; ok {
		return ctx, nil
	}

	token, err := tokenFromMetadata(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	principal, err := i.svc.AuthenticateToken(ctx, token)
	if err != nil {
		return nil, toStatus(err)
	}

	if required, ok := i.perms[fullMethod]; ok && len(required) > 0 {
		held := false
		for _, perm := range required {
			if principal.HasPermission(perm) {
				held = true
				break
			}
		}
		if !held {
			return nil, status.Error(codes.PermissionDenied, "insufficient permissions")
		}
	}

	ctx = auth.ContextWithPrincipal(ctx, principal)
	ctx = auth.ContextWithToken(ctx, token)
	return ctx, nil
}

func tokenFromMetadata(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", auth.E(auth.CodeMissingToken, "authorization metadata is required")
	}
	values := md.Get("authorization")
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return "", auth.E(auth.CodeMissingToken, "authorization metadata is required")
	}
	raw := strings.TrimSpace(values[0])
	if !strings.HasPrefix(strings.ToLower(raw), bearerPrefix) {
		return "", auth.E(auth.CodeInvalidTokenFormat, "authorization metadata must be 'Bearer <token>'")
	}
	token := strings.TrimSpace(raw[len(bearerPrefix):])
	if token == "" {
		return "", auth.E(auth.CodeInvalidTokenFormat, "authorization metadata must be 'Bearer <token>'")
	}
	return token, nil
}

// toStatus maps taxonomy codes onto gRPC status codes. The taxonomy code
// rides in the message so clients keep the stable identifier.
func toStatus(err error) error {
	code := auth.CodeOf(err)
	var grpcCode codes.Code
	switch code {
	case auth.CodeRateLimited:
		grpcCode = codes.ResourceExhausted
	case auth.CodeAccountInactive, auth.CodeNoActiveTenants, auth.CodeCompanyInactive,
		auth.CodeInsufficientPermissions, auth.CodeInsufficientRole:
		grpcCode = codes.PermissionDenied
	case auth.CodeSystem:
		return status.Error(codes.Internal, string(auth.CodeSystem))
	default:
		grpcCode = codes.Unauthenticated
	}
	return status.Error(grpcCode, string(code))
}

type principalStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s principalStream) Context() context.Context { return s.ctx }
