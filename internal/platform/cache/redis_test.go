package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestConnect(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := Connect(context.Background(), Options{Addr: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Set(context.Background(), "heal:lock", "1", time.Minute).Err())
	require.True(t, srv.Exists("heal:lock"))
}

func TestConnectRequiresAddress(t *testing.T) {
	_, err := Connect(context.Background(), Options{})
	require.Error(t, err)
}

func TestConnectUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	_, err := Connect(context.Background(), Options{Addr: addr, DialTimeout: 100 * time.Millisecond, PingTimeout: 500 * time.Millisecond})
	require.Error(t, err)
	require.Contains(t, err.Error(), addr)
}
