package ecd

import (
	"context"
	"fmt"
	"sync"

	"github.com/ChristianMct/ecd/utils"
	"google.golang.org/grpc/stats"
)

// MethodStats contains the network statistics of the calls to a method.
type MethodStats struct {
	Calls              uint64
	DataSent, DataRecv uint64
}

// String returns a string representation of the network statistics.
func (s MethodStats) String() string {
	return fmt.Sprintf("Calls: %d, Sent: %s, Received: %s", s.Calls, utils.ByteCountSI(s.DataSent), utils.ByteCountSI(s.DataRecv))
}

// NetStats contains the network statistics of a client or server, per method.
type NetStats struct {
	Compute, RegisterKeys, Others MethodStats
}

func (ns NetStats) String() string {
	return fmt.Sprintf("NetStats:\n\tCompute: %s\n\tRegisterKeys: %s\n\tOthers: %s", ns.Compute, ns.RegisterKeys, ns.Others)
}

type methodKey struct{}

type statsHandler struct {
	mu sync.Mutex
	NetStats
}

// TagRPC attaches the called method to the context of the RPC.
func (s *statsHandler) TagRPC(ctx context.Context, info *stats.RPCTagInfo) context.Context {
	return context.WithValue(ctx, methodKey{}, info.FullMethodName)
}

// HandleRPC processes the RPC stats.
func (s *statsHandler) HandleRPC(ctx context.Context, sta stats.RPCStats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ms *MethodStats
	switch ctx.Value(methodKey{}) {
	case computeMethod:
		ms = &s.Compute
	case registerKeysMethod:
		ms = &s.RegisterKeys
	default:
		ms = &s.Others
	}

	switch sta := sta.(type) {
	case *stats.Begin:
		ms.Calls++
	case *stats.InPayload:
		ms.DataRecv += uint64(sta.WireLength)
	case *stats.OutPayload:
		ms.DataSent += uint64(sta.WireLength)
	}
}

// TagConn can attach some information to the given context.
func (s *statsHandler) TagConn(ctx context.Context, _ *stats.ConnTagInfo) context.Context {
	return ctx
}

// HandleConn processes the Conn stats.
func (s *statsHandler) HandleConn(_ context.Context, _ stats.ConnStats) {}

// GetStats returns the network statistics collected so far.
func (s *statsHandler) GetStats() NetStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.NetStats
}
