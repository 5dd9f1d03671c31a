package transportgrpc

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/arklim/zk-tenant-iam/internal/transport/grpc/zkiamv1"
)

// KeySetSource renders the public signing keys as a JWKS document.
type KeySetSource interface {
	JWKS() ([]byte, error)
}

// TokenServer implements zkiam.v1.TokenService.
type TokenServer struct {
	keys   KeySetSource
	logger *zap.Logger
}

var _ zkiamv1.TokenServiceServer = (*TokenServer)(nil)

// NewTokenServer constructs a gRPC token server that only serves JWKS responses.
func NewTokenServer(keys KeySetSource, logger *zap.Logger) *TokenServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenServer{keys: keys, logger: logger}
}

// GetJWKS returns the JSON Web Key Set for offline session token validation.
func (s *TokenServer) GetJWKS(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	if s == nil || s.keys == nil {
		return nil, status.Error(codes.Unavailable, "jwks not available")
	}
	jwks, err := s.keys.JWKS()
	if err != nil {
		s.logger.Error("failed to generate JWKS", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to generate jwks")
	}
	return wrapperspb.String(string(jwks)), nil
}
