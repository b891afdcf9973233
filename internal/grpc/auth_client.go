package grpc

import (
	"context"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"ciphertalk/internal/auth"
	"ciphertalk/internal/models"
)

const validateTokenMethod = "/auth.AuthService/ValidateToken"

// AuthClient asks the auth-service to validate bearer tokens. Requests and
// responses travel as structpb.Struct so no generated stubs are needed.
type AuthClient struct {
	conn grpc.ClientConnInterface
}

// Dial opens an instrumented plaintext connection to the auth-service.
func Dial(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
}

// NewAuthClient constructs the wrapper.
func NewAuthClient(conn grpc.ClientConnInterface) *AuthClient {
	return &AuthClient{conn: conn}
}

// Authenticate verifies the token and returns the caller identity.
func (a *AuthClient) Authenticate(ctx context.Context, token string) (models.Identity, error) {
	if token == "" {
		return models.Identity{}, auth.ErrUnauthenticated
	}
	req, err := structpb.NewStruct(map[string]any{"token": token})
	if err != nil {
		return models.Identity{}, err
	}

	resp := &structpb.Struct{}
	if err := a.conn.Invoke(ctx, validateTokenMethod, req, resp); err != nil {
		return models.Identity{}, err
	}

	fields := resp.GetFields()
	userID := int64(fields["user_id"].GetNumberValue())
	if !fields["valid"].GetBoolValue() || userID <= 0 {
		return models.Identity{}, auth.ErrUnauthenticated
	}
	return models.Identity{UserID: userID, Username: fields["username"].GetStringValue()}, nil
}
