package server

import (
	"context"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/transport/grpc/zkiamv1"
)

// SessionValidator resolves a raw session token into its principal.
type SessionValidator interface {
	Validate(ctx context.Context, raw string) (*domain.Principal, error)
}

// TokenValidationServer implements zkiam.v1.SessionService for services that cannot verify tokens
// offline. Revocation is honoured, unlike a JWKS-only check.
type TokenValidationServer struct {
	sessions SessionValidator
}

var _ zkiamv1.SessionServiceServer = (*TokenValidationServer)(nil)

// NewTokenValidationServer constructs a TokenValidationServer instance.
func NewTokenValidationServer(sessions SessionValidator) *TokenValidationServer {
	return &TokenValidationServer{sessions: sessions}
}

// Validate verifies the session token and returns the associated principal. Invalid tokens are
// reported in the response body, not as an RPC error.
func (s *TokenValidationServer) Validate(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	token := strings.TrimSpace(req.GetValue())
	if token == "" {
		return invalid("token is required")
	}

	principal, err := s.sessions.Validate(ctx, token)
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindTokenExpired:
			return invalid("session token expired")
		case domain.KindTokenRevoked:
			return invalid("session token revoked")
		case domain.KindTokenInvalid:
			return invalid("session token invalid")
		default:
			return invalid("failed to validate token")
		}
	}

	return structpb.NewStruct(map[string]any{
		"valid":      true,
		"user_id":    principal.UserID,
		"username":   principal.Username,
		"tenant_id":  principal.TenantID,
		"expires_at": float64(principal.ExpiresAt.Unix()),
	})
}

func invalid(reason string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"valid": false, "error": reason})
}
