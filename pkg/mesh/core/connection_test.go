package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-mesh/mesh/pkg/mesh/transport"
	"github.com/go-mesh/mesh/pkg/mesh/types"
)

func connectedPair(t *testing.T) (transport.Transport, transport.Transport) {
	t.Helper()
	dialer := transport.NewPipeDialer()
	peer := dialer.Register("node")
	accepted := make(chan transport.Transport, 1)
	go func() {
		tr, _, _ := peer.Accept()
		accepted <- tr
	}()
	client, err := dialer.Dial("node", time.Second)
	require.NoError(t, err)
	server := <-accepted
	return client, server
}

func TestConnection_WriteDeliversFrameToPeer(t *testing.T) {
	clientTr, serverTr := connectedPair(t)
	sched := NewScheduler()
	teardown := NewTeardownScheduler(0, nil)

	client := NewConnection(clientTr, RoleStation, teardown, nil)
	server := NewConnection(serverTr, RoleAccessPoint, teardown, nil)

	received := make(chan string, 1)
	server.OnFrame(func(_ *Connection, body []byte, _ int64) {
		received <- string(body)
	})

	client.Initialize(sched, func(*Connection) {}, func(*Connection) {})
	server.Initialize(sched, func(*Connection) {}, func(*Connection) {})

	require.True(t, client.Write([]byte("hello")))

	require.Eventually(t, func() bool {
		sched.Execute()
		select {
		case got := <-received:
			require.Equal(t, "hello", got)
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	tx, dropped, _ := client.Stats()
	require.Equal(t, uint64(1), tx)
	require.Equal(t, uint64(0), dropped)
}

func TestConnection_WriteAfterCloseIsDropped(t *testing.T) {
	clientTr, _ := connectedPair(t)
	teardown := NewTeardownScheduler(0, nil)
	conn := NewConnection(clientTr, RoleStation, teardown, nil)
	conn.Close()
	require.False(t, conn.Write([]byte("x")))
	_, dropped, _ := conn.Stats()
	require.Equal(t, uint64(1), dropped)
}

func TestConnection_CloseFiresCallbackOnce(t *testing.T) {
	clientTr, _ := connectedPair(t)
	teardown := NewTeardownScheduler(0, nil)
	conn := NewConnection(clientTr, RoleStation, teardown, nil)
	conn.SetPeerID(99)

	var calls int
	conn.OnClosed(func(id NodeID, role Role) {
		calls++
		require.Equal(t, NodeID(99), id)
	})
	conn.Close()
	conn.Close()
	require.Equal(t, 1, calls)
}

func TestConnection_SetPeerIDFiresDiscoverOnce(t *testing.T) {
	clientTr, _ := connectedPair(t)
	teardown := NewTeardownScheduler(0, nil)
	conn := NewConnection(clientTr, RoleStation, teardown, nil)

	var calls int
	conn.OnPeerDiscovered(func(NodeID) { calls++ })
	conn.SetPeerID(5)
	conn.SetPeerID(5)
	conn.SetPeerID(6)
	require.Equal(t, 1, calls)
}

func TestConnection_SetSubtreeFiresOnChangeOnly(t *testing.T) {
	clientTr, _ := connectedPair(t)
	teardown := NewTeardownScheduler(0, nil)
	conn := NewConnection(clientTr, RoleStation, teardown, nil)

	var calls int
	conn.OnSubtreeChanged(func(NodeID) { calls++ })

	t1 := types.NewTree(10)
	conn.SetSubtree(t1)
	conn.SetSubtree(t1)
	require.Equal(t, 1, calls)

	t2 := types.NewTree(10)
	t2.AddSub(types.NewTree(20))
	conn.SetSubtree(t2)
	require.Equal(t, 2, calls)
}

func TestConnection_QualityBoundedZeroToHundred(t *testing.T) {
	clientTr, _ := connectedPair(t)
	teardown := NewTeardownScheduler(0, nil)
	conn := NewConnection(clientTr, RoleStation, teardown, nil)

	require.Equal(t, 100, conn.Quality())

	for i := 0; i < 20; i++ {
		conn.RecordLatency(5000)
	}
	conn.SetRSSI(-100)
	for i := 0; i < 50; i++ {
		conn.WriteWithPriority([]byte("x"), types.PriorityNormal)
	}
	q := conn.Quality()
	require.GreaterOrEqual(t, q, 0)
	require.LessOrEqual(t, q, 100)
}
