package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTCPListener_RejectsUnspecifiedWithoutAdvertise(t *testing.T) {
	_, err := NewTCPListener("0.0.0.0:0", nil)
	require.ErrorIs(t, err, ErrNotAdvertiseAddress)
}

func TestTCPListener_AdvertiseAddressIsReported(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 56700}
	l, err := NewTCPListener("0.0.0.0:0", addr)
	require.NoError(t, err)
	defer l.Close()
	require.Equal(t, "127.0.0.1:56700", l.LocalAddress())
}

func TestTCPTransport_RoundTripsBytes(t *testing.T) {
	l, err := NewTCPListener("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan Transport, 1)
	go func() {
		tr, _, aerr := l.Accept()
		require.NoError(t, aerr)
		accepted <- tr
	}()

	client, err := (TCPDialer{}).Dial(l.LocalAddress(), time.Second)
	require.NoError(t, err)
	defer client.Close()

	server := <-accepted
	defer server.Close()

	received := make(chan []byte, 1)
	server.OnData(func(b []byte) { received <- b })

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case b := <-received:
		require.Equal(t, "hello", string(b))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data")
	}
}

func TestTCPTransport_FreeableAfterClose(t *testing.T) {
	l, err := NewTCPListener("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan Transport, 1)
	go func() {
		tr, _, _ := l.Accept()
		accepted <- tr
	}()

	client, err := (TCPDialer{}).Dial(l.LocalAddress(), time.Second)
	require.NoError(t, err)
	server := <-accepted
	defer server.Close()

	require.NoError(t, client.Close())
	require.Eventually(t, client.Freeable, time.Second, 10*time.Millisecond)
}
