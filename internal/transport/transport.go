package transport

import (
	"context"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/schema"
)

var ErrNotConnected = errors.New("transport: not connected")

// Handlers receives typed inbound frames. Every handler runs on the reader
// goroutine and must not block; push to a queue or complete a future and
// return.
type Handlers struct {
	OnCurrentTime     func(serverTimeUTC time.Time)
	OnNextValidID     func(orderID int)
	OnManagedAccounts func(accounts []string)
	OnError           func(apiErr schema.APIError)
	OnOrderEvent      func(event schema.CanonicalOrderEvent)
	OnOpenOrders      func(rows []schema.OpenOrderRow)
	OnCompletedOrders func(rows []schema.CompletedOrderRow)
	OnExecutions      func(rows []schema.ExecutionRow)
	OnDisconnect      func(err error)
}

// Transport is the wire connection to the broker gateway. Implementations
// deliver inbound frames through Handlers and expose request operations that
// resolve asynchronously via those same handlers.
type Transport interface {
	// Dial opens the connection and performs the wire-level hello. ctx
	// bounds the handshake only; the connection outlives it until Close.
	// The gateway emits next-valid-id and managed-accounts frames on its
	// own after a successful hello, possibly before Dial returns.
	Dial(ctx context.Context, host string, port, clientID int) error
	// Connected reports whether the underlying socket is usable.
	Connected() bool
	// Close tears down the socket. Safe to call repeatedly.
	Close()

	// RequestCurrentTime asks the gateway for its clock; the answer arrives
	// via OnCurrentTime.
	RequestCurrentTime(ctx context.Context) error
	// RequestOpenOrders asks for the open-orders snapshot.
	RequestOpenOrders(ctx context.Context) error
	// RequestCompletedOrders asks for the completed-orders snapshot.
	RequestCompletedOrders(ctx context.Context) error
	// RequestExecutions asks for the executions snapshot.
	RequestExecutions(ctx context.Context) error
	// CancelOrder submits a cancel for the given order id.
	CancelOrder(ctx context.Context, orderID int) error
}
