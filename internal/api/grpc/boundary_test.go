package grpc

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	ferrors "github.com/facetd/facetd/internal/errors"
	"github.com/facetd/facetd/internal/facet"
	"github.com/facetd/facetd/internal/router"
)

const bufSize = 1024 * 1024

func startServer(t *testing.T, srv *BoundaryServer[int64]) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer()
	srv.Register(gs)
	go func() {
		_ = gs.Serve(lis)
	}()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func maxLast(reports map[string][]facet.BoundaryReport[int64]) (map[string]map[string]int64, error) {
	out := make(map[string]map[string]int64)
	var best int64
	for _, rs := range reports {
		for _, r := range rs {
			if r.Last > best {
				best = r.Last
			}
		}
	}
	for p := range reports {
		out[p] = map[string]int64{"[]": best}
	}
	return out, nil
}

func TestBoundary_RoundTrip(t *testing.T) {
	srv := NewBoundaryServer[int64](nil)
	conn := startServer(t, srv)
	ex := router.NewExchange[int64]("round-1", []string{"p0", "p1"})
	srv.Bind(ex)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan map[string]map[string]int64, 1)
	go func() {
		b, err := ex.Run(ctx, 5*time.Second, maxLast)
		assert.NoError(t, err)
		done <- b
	}()

	client := NewBoundaryClient[int64](conn)
	var wg sync.WaitGroup
	got := make([]router.Broadcast[int64], 2)
	for i, p := range []string{"p0", "p1"} {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			err := client.Publish(ctx, router.Publication[int64]{
				Round:     "round-1",
				Partition: p,
				Reports:   []facet.BoundaryReport[int64]{{Path: "[]", Last: int64(10 * (i + 1)), Count: 2}},
			})
			if !assert.NoError(t, err) {
				return
			}
			b, err := client.Await(ctx, p)
			assert.NoError(t, err)
			got[i] = b
		}(i, p)
	}
	wg.Wait()

	for _, b := range got {
		assert.Equal(t, "round-1", b.Round)
		assert.Equal(t, map[string]int64{"[]": 20}, b.Boundaries)
	}
	assert.Len(t, <-done, 2)
}

func TestBoundary_Errors(t *testing.T) {
	srv := NewBoundaryServer[int64](nil)
	conn := startServer(t, srv)
	client := NewBoundaryClient[int64](conn)
	ctx := context.Background()

	err := client.Publish(ctx, router.Publication[int64]{Partition: "p0"})
	require.Error(t, err, "no round bound yet")

	srv.Bind(router.NewExchange[int64]("r", []string{"p0"}))
	require.NoError(t, client.Publish(ctx, router.Publication[int64]{Partition: "p0"}))

	err = client.Publish(ctx, router.Publication[int64]{Partition: "p0"})
	assert.Equal(t, ferrors.CodeUnsupportedProtocolState, ferrors.GetCode(err))

	err = client.Publish(ctx, router.Publication[int64]{Partition: "p9"})
	assert.Equal(t, ferrors.CodeUnsupportedProtocolState, ferrors.GetCode(err))

	floats := NewBoundaryClient[float64](conn)
	err = floats.Publish(ctx, router.Publication[float64]{Partition: "p0"})
	assert.Equal(t, ferrors.CodeTypeMismatch, ferrors.GetCode(err))
}

func TestBoundary_BarrierTimeout(t *testing.T) {
	srv := NewBoundaryServer[int64](nil)
	conn := startServer(t, srv)
	client := NewBoundaryClient[int64](conn)
	ex := router.NewExchange[int64]("r", []string{"p0", "p1"})
	srv.Bind(ex)

	ctx := context.Background()
	require.NoError(t, client.Publish(ctx, router.Publication[int64]{Partition: "p0"}))

	go func() {
		_, _ = ex.Run(ctx, 50*time.Millisecond, maxLast)
	}()

	_, err := client.Await(ctx, "p0")
	require.Error(t, err)
	assert.Equal(t, ferrors.CodeBarrierTimeout, ferrors.GetCode(err))
	assert.True(t, ferrors.IsRetryable(err))
}
