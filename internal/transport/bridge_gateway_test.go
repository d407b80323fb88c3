package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatewayConn wraps one accepted connection with write serialization.
type gatewayConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (g *gatewayConn) writeJSON(v any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conn.WriteJSON(v)
}

// ackFrames answers every inbound frame with a matching ack until the
// connection drops.
func (g *gatewayConn) ackFrames() {
	for {
		var req map[string]any
		if err := g.conn.ReadJSON(&req); err != nil {
			return
		}
		reqType, _ := req["type"].(string)
		if err := g.writeJSON(map[string]any{"type": "ack", "for": reqType}); err != nil {
			return
		}
	}
}

// startGateway runs an in-process broker gateway on a real websocket. The
// handler receives each accepted connection after the hello exchange.
func startGateway(t *testing.T, handler func(g *gatewayConn)) (string, int) {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		var hello map[string]any
		if err := conn.ReadJSON(&hello); err != nil {
			t.Logf("read hello error: %v", err)
			return
		}
		g := &gatewayConn{conn: conn}
		if g.writeJSON(map[string]any{"type": "helloAck"}) != nil {
			return
		}
		handler(g)
	}))
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	host, portRaw, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portRaw)
	require.NoError(t, err)
	return host, port
}

func TestDialOutlivesHandshakeContext(t *testing.T) {
	var times atomic.Int64
	host, port := startGateway(t, func(g *gatewayConn) {
		go g.ackFrames()
		for i := 0; i < 100; i++ {
			if err := g.writeJSON(map[string]any{
				"type": "currentTime",
				"data": map[string]any{"time": time.Now().Unix()},
			}); err != nil {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	})

	b := NewBridge(t.Context(), Handlers{
		OnCurrentTime: func(time.Time) { times.Add(1) },
	})
	defer b.Close()

	dialCtx, cancelDial := context.WithTimeout(t.Context(), 2*time.Second)
	err := b.Dial(dialCtx, host, port, 7)
	cancelDial()
	require.NoError(t, err)
	require.True(t, b.Connected())

	require.Eventually(t, func() bool { return times.Load() >= 3 }, 2*time.Second, 10*time.Millisecond,
		"inbound frames must keep flowing after the handshake context ends")

	reqCtx, cancelReq := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancelReq()
	assert.NoError(t, b.RequestCurrentTime(reqCtx))
}

func TestDialDeliversFramesSentRightAfterHello(t *testing.T) {
	var orderID atomic.Int64
	var gotAccounts atomic.Bool
	host, port := startGateway(t, func(g *gatewayConn) {
		_ = g.writeJSON(map[string]any{"type": "nextValidId", "data": map[string]any{"orderId": 41}})
		_ = g.writeJSON(map[string]any{"type": "managedAccounts", "data": map[string]any{"accounts": "DU100"}})
		g.ackFrames()
	})

	b := NewBridge(t.Context(), Handlers{
		OnNextValidID:     func(id int) { orderID.Store(int64(id)) },
		OnManagedAccounts: func([]string) { gotAccounts.Store(true) },
	})
	defer b.Close()

	dialCtx, cancelDial := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancelDial()
	require.NoError(t, b.Dial(dialCtx, host, port, 7))

	require.Eventually(t, func() bool { return orderID.Load() == 41 && gotAccounts.Load() },
		2*time.Second, 10*time.Millisecond,
		"milestones emitted right after helloAck must reach the handlers")
}

func TestCloseWhileRequestsInFlight(t *testing.T) {
	host, port := startGateway(t, func(g *gatewayConn) {
		g.ackFrames()
	})

	b := NewBridge(t.Context(), Handlers{})
	dialCtx, cancelDial := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancelDial()
	require.NoError(t, b.Dial(dialCtx, host, port, 7))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				_ = b.RequestCurrentTime(ctx)
				cancel()
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	b.Close()
	wg.Wait()

	assert.ErrorIs(t, b.RequestCurrentTime(t.Context()), ErrNotConnected)
}
