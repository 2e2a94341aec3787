package ecd

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ChristianMct/ecd/api"
	"github.com/ChristianMct/ecd/errs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	ClientConnectTimeout = 3 * time.Second
)

// ComputeClient is the client-side of the gRPC transport. It implements
// executor.Transport and executor.KeyRegistrar.
type ComputeClient struct {
	address string

	*grpc.ClientConn
	statsHandler
}

// Dialer is a function that returns a net.Conn to the provided address.
type Dialer = func(c context.Context, addr string) (net.Conn, error)

// NewComputeClient creates a new client for the server at address.
func NewComputeClient(address string) *ComputeClient {
	return &ComputeClient{address: address}
}

// Connect establishes a connection to the server.
func (cc *ComputeClient) Connect() error {
	return cc.ConnectWithDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	})
}

// ConnectWithDialer establishes a connection to the server using the provided dialer.
func (cc *ComputeClient) ConnectWithDialer(dialer Dialer) error {
	opts := []grpc.DialOption{
		grpc.WithContextDialer(dialer),
		grpc.WithBlock(),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 1 * time.Second}),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(api.Codec{}),
			grpc.MaxCallRecvMsgSize(MaxMsgSize),
			grpc.MaxCallSendMsgSize(MaxMsgSize)),
		grpc.WithStatsHandler(&cc.statsHandler),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}

	ctx, cancel := context.WithTimeout(context.Background(), ClientConnectTimeout)
	defer cancel()
	var err error
	cc.ClientConn, err = grpc.DialContext(ctx, cc.address, opts...)
	if err != nil {
		return fmt.Errorf("fail establish connection to the compute server at tcp://%s: %w", cc.address, err)
	}
	return nil
}

// Disconnect closes the connection to the server.
func (cc *ComputeClient) Disconnect() error {
	return cc.ClientConn.Close()
}

// Compute sends req to the server. Failures of the computation are reported
// in the result.
func (cc *ComputeClient) Compute(ctx context.Context, req *api.OperationRequest) (*api.OperationResult, error) {
	res := new(api.OperationResult)
	if err := cc.ClientConn.Invoke(outgoingContext(ctx, req.RequestID), computeMethod, req, res); err != nil {
		return nil, err
	}
	return res, nil
}

// RegisterKeys sends the public material in req to the server.
func (cc *ComputeClient) RegisterKeys(ctx context.Context, req *api.RegisterKeysRequest) (*api.RegisterKeysResponse, error) {
	res := new(api.RegisterKeysResponse)
	if err := cc.ClientConn.Invoke(ctx, registerKeysMethod, req, res); err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.InvalidArgument {
			// the server rejected the material, retrying it cannot succeed
			if k, ok := errs.ParseKind(st.Message()); ok {
				return nil, fmt.Errorf("%w: %s", k, st.Message())
			}
		}
		return nil, err
	}
	return res, nil
}
