package tunnel

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRelayCopiesBothDirections(t *testing.T) {
	aClient, aServer := net.Pipe()
	bClient, bServer := net.Pipe()

	done := make(chan struct{})
	go func() {
		Relay(aServer, bServer)
		close(done)
	}()

	go func() {
		_, _ = aClient.Write([]byte("hello from a"))
	}()
	buf := make([]byte, 64)
	n, err := bClient.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello from a", string(buf[:n]), "b did not receive a's bytes")

	go func() {
		_, _ = bClient.Write([]byte("hello from b"))
	}()
	n, err = aClient.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello from b", string(buf[:n]), "a did not receive b's bytes")

	_ = aClient.Close()
	_ = bClient.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Relay did not return after both sides closed")
	}
}

func TestRelayClosesBothOnOneSideClose(t *testing.T) {
	aClient, aServer := net.Pipe()
	bClient, bServer := net.Pipe()

	done := make(chan struct{})
	go func() {
		Relay(aServer, bServer)
		close(done)
	}()

	_ = aClient.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Relay did not return after one side closed")
	}

	buf := make([]byte, 1)
	_, err := bClient.Read(buf)
	require.Error(t, err, "expected bClient to observe closure")
}
