package ecd

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/ChristianMct/ecd/api"
	"github.com/ChristianMct/ecd/errs"
	"github.com/ChristianMct/ecd/executor"
	"github.com/ChristianMct/ecd/fhe"
	"github.com/ChristianMct/ecd/objectstore"
	"github.com/ChristianMct/ecd/scheme"
	"github.com/ChristianMct/ecd/services/compute"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/test/bufconn"
)

const buffConBufferSize = 65 * 1024 * 1024

var testConfig = scheme.Config{
	Scheme:              scheme.SchemeCKKS,
	PolyModulusDegree:   4096,
	CoeffModulusBits:    []int{50, 35, 35, 50},
	ScaleBits:           30,
	MultiplicativeDepth: 2,
}

type testSetting struct {
	scheme fhe.Scheme
	n      int // number of concurrent workflows
}

func newTestTransport(t *testing.T, s fhe.Scheme) (*ComputeServer, *ComputeClient) {
	svc, err := compute.NewService(compute.ServiceConfig{}, objectstore.NewMemObjectStore(), compute.WithScheme(s), compute.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	lis := bufconn.Listen(buffConBufferSize)
	srv := NewComputeServer(svc)
	go func() {
		if err := srv.Serve(lis); err != nil {
			t.Logf("server stopped: %v", err)
		}
	}()
	t.Cleanup(srv.Stop)

	cli := NewComputeClient("bufconn")
	require.NoError(t, cli.ConnectWithDialer(func(c context.Context, addr string) (net.Conn, error) { return lis.Dial() }))
	t.Cleanup(func() { cli.Disconnect() })
	return srv, cli
}

func TestRemoteWorkflow(t *testing.T) {
	for _, ts := range []testSetting{
		{scheme: fhe.Mock, n: 1},
		{scheme: fhe.Mock, n: 4},
		{scheme: fhe.CKKS, n: 2},
	} {
		t.Run(fmt.Sprintf("scheme=%s/n=%d", ts.scheme.Name(), ts.n), func(t *testing.T) {
			srv, cli := newTestTransport(t, ts.scheme)
			ex, err := executor.NewRemote(cli, executor.WithRemoteLogger(zerolog.Nop()))
			require.NoError(t, err)

			input := []float64{26, 118, 76, 80, 97.6}
			operand := []float64{0, 5, 0, 0, 0}

			g := new(errgroup.Group)
			for i := 0; i < ts.n; i++ {
				i := i
				g.Go(func() error {
					sc, err := scheme.NewContext(testConfig, scheme.WithScheme(ts.scheme))
					if err != nil {
						return errors.WithMessagef(err, "error at client %d", i)
					}
					for _, op := range fhe.Operations {
						ct, info, err := executor.Run(context.Background(), ex, sc, input, op, operand)
						if err != nil {
							return errors.WithMessagef(err, "error at client %d, operation %s", i, op)
						}
						if info.Attempts != 1 && info.Attempts != 2 {
							return fmt.Errorf("%s: unexpected attempt count %d", op, info.Attempts)
						}
						pt, err := sc.Decrypt(ct)
						if err != nil {
							return err
						}
						got, err := sc.Decode(pt)
						if err != nil {
							return err
						}
						want := op.Plaintext(input, operand)
						for j := range want {
							if d := got[j] - want[j]; d > 1e-2 || d < -1e-2 {
								return fmt.Errorf("%s: slot %d is %f, expected %f", op, j, got[j], want[j])
							}
						}
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())

			st := srv.GetStats()
			require.Equal(t, uint64(ts.n*len(fhe.Operations)), st.Compute.Calls)
			require.Equal(t, uint64(ts.n), st.RegisterKeys.Calls)
			require.Greater(t, st.Compute.DataRecv, st.RegisterKeys.DataSent)
			require.NotZero(t, cli.GetStats().Compute.DataSent)
		})
	}
}

func TestRemoteErrors(t *testing.T) {
	_, cli := newTestTransport(t, fhe.Mock)
	sc, err := scheme.NewContext(testConfig, scheme.WithScheme(fhe.Mock))
	require.NoError(t, err)
	pm, err := sc.PublicMaterial()
	require.NoError(t, err)

	pm.Config.ScaleBits = 0
	_, err = cli.RegisterKeys(context.Background(), &api.RegisterKeysRequest{PublicMaterial: pm})
	require.ErrorIs(t, err, errs.InvalidConfig)

	ex, err := executor.NewRemote(cli, executor.WithRemoteLogger(zerolog.Nop()))
	require.NoError(t, err)
	ct, err := ex.Encrypt(context.Background(), sc, []float64{1, 2})
	require.NoError(t, err)
	_, _, err = ex.Compute(context.Background(), sc, ct, fhe.MultiplyPlain, make([]float64, sc.Slots()+1))
	require.ErrorIs(t, err, errs.RemoteComputationError)
	require.ErrorContains(t, err, string(errs.InvalidInput))
}
