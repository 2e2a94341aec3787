package ecd

import (
	"context"
	"net"
	"time"

	"github.com/ChristianMct/ecd/api"
	"github.com/ChristianMct/ecd/errs"
	"github.com/ChristianMct/ecd/services/compute"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

const (
	MaxMsgSize       = 1024 * 1024 * 32
	KeepaliveTime    = time.Second
	KeepaliveTimeout = time.Second
)

// ComputeServer is the server-side of the gRPC transport. It serves a
// compute service.
type ComputeServer struct {
	service *compute.Service
	logger  zerolog.Logger

	*grpc.Server
	statsHandler
}

// NewComputeServer creates a new gRPC server for service.
func NewComputeServer(service *compute.Service) *ComputeServer {
	srv := new(ComputeServer)
	srv.service = service
	srv.logger = log.With().Str("component", "grpc").Logger()

	serverOpts := []grpc.ServerOption{
		grpc.ForceServerCodec(api.Codec{}),
		grpc.MaxRecvMsgSize(MaxMsgSize),
		grpc.MaxSendMsgSize(MaxMsgSize),
		grpc.StatsHandler(&srv.statsHandler),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    KeepaliveTime,
			Timeout: KeepaliveTimeout,
		}),
	}

	srv.Server = grpc.NewServer(serverOpts...)
	srv.Server.RegisterService(&serviceDesc, srv)
	return srv
}

// Serve accepts incoming connections on lis until Stop or GracefulStop is called.
func (srv *ComputeServer) Serve(lis net.Listener) error {
	srv.logger.Info().Str("address", lis.Addr().String()).Msg("serving compute service")
	return srv.Server.Serve(lis)
}

func (srv *ComputeServer) compute(ctx context.Context, req *api.OperationRequest) (*api.OperationResult, error) {
	if req.RequestID == "" {
		req.RequestID = requestIDFromIncomingContext(ctx)
	}
	// failures of the computation are reported in-band
	return srv.service.Compute(ctx, req), nil
}

func (srv *ComputeServer) registerKeys(ctx context.Context, req *api.RegisterKeysRequest) (*api.RegisterKeysResponse, error) {
	fp, err := srv.service.RegisterKeys(ctx, req.PublicMaterial)
	if err != nil {
		if _, ok := errs.KindOf(err); ok {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &api.RegisterKeysResponse{Fingerprint: fp.String()}, nil
}
