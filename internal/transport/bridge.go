package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/schema"
)

// Bridge speaks JSON frames to a broker-gateway sidecar over a websocket.
// The gateway fronts the broker's native socket protocol and re-emits every
// callback as one typed frame.
//
// baseCtx is the run-lifetime context: the socket and its reader live until
// Close or baseCtx ends, never until a per-call deadline.
type Bridge struct {
	baseCtx   context.Context
	handlers  Handlers
	connected atomic.Bool

	mu       sync.Mutex
	wss      *ws.WebSocket
	stopConn func()
}

func NewBridge(ctx context.Context, handlers Handlers) *Bridge {
	return &Bridge{baseCtx: ctx, handlers: handlers}
}

// frame is the gateway envelope. Data is decoded per Type.
type frame struct {
	Type string          `json:"type"`
	For  string          `json:"for,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type wireCurrentTime struct {
	Time int64 `json:"time"`
}

type wireNextValidID struct {
	OrderID int `json:"orderId"`
}

type wireManagedAccounts struct {
	Accounts string `json:"accounts"`
}

type wireError struct {
	ID      *int   `json:"id"`
	Code    *int   `json:"code"`
	Message string `json:"message"`
}

// Quantities and prices arrive as decimal strings from the gateway and are
// narrowed to float64 at this boundary only.
type wireOrderEvent struct {
	Timestamp    int64           `json:"timestamp"`
	EventType    string          `json:"eventType"`
	OrderID      int             `json:"orderId"`
	PermID       int             `json:"permId"`
	Symbol       string          `json:"symbol"`
	Action       string          `json:"action"`
	OrderType    string          `json:"orderType"`
	Status       string          `json:"status"`
	Filled       decimal.Decimal `json:"filled"`
	Remaining    decimal.Decimal `json:"remaining"`
	AvgFillPrice decimal.Decimal `json:"avgFillPrice"`
	Account      string          `json:"account"`
	Reason       string          `json:"reason"`
}

type wireOpenOrder struct {
	OrderID       int             `json:"orderId"`
	Symbol        string          `json:"symbol"`
	SecurityType  string          `json:"secType"`
	Exchange      string          `json:"exchange"`
	Action        string          `json:"action"`
	OrderType     string          `json:"orderType"`
	TotalQuantity decimal.Decimal `json:"totalQuantity"`
	LimitPrice    decimal.Decimal `json:"lmtPrice"`
	Status        string          `json:"status"`
	Account       string          `json:"account"`
}

type wireCompletedOrder struct {
	Symbol        string          `json:"symbol"`
	SecurityType  string          `json:"secType"`
	Exchange      string          `json:"exchange"`
	Action        string          `json:"action"`
	OrderType     string          `json:"orderType"`
	TotalQuantity decimal.Decimal `json:"totalQuantity"`
	LimitPrice    decimal.Decimal `json:"lmtPrice"`
	Status        string          `json:"status"`
	Account       string          `json:"account"`
	PermID        int             `json:"permId"`
}

type wireExecution struct {
	ExecID       string          `json:"execId"`
	OrderID      int             `json:"orderId"`
	PermID       int             `json:"permId"`
	Account      string          `json:"account"`
	Symbol       string          `json:"symbol"`
	SecurityType string          `json:"secType"`
	Side         string          `json:"side"`
	Shares       decimal.Decimal `json:"shares"`
	Price        decimal.Decimal `json:"price"`
	Time         string          `json:"time"`
	Exchange     string          `json:"exchange"`
	ClientID     int             `json:"clientId"`
}

// Dial establishes the socket and runs the hello exchange. ctx bounds the
// handshake only; the connection itself is tied to baseCtx. The reader is
// subscribed before hello goes out, so frames the gateway emits right after
// helloAck are never lost.
func (b *Bridge) Dial(ctx context.Context, host string, port, clientID int) error {
	b.Close()

	connCtx, cancelConn := context.WithCancel(b.baseCtx)
	wss := ws.New(connCtx, fmt.Sprintf("ws://%s:%d/v1/api", host, port))
	if err := wss.Start(connCtx); err != nil {
		cancelConn()
		return errors.Wrap(err, "dial broker gateway")
	}
	stopRead := b.startReader(connCtx, wss)

	if err := wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, client *ws.WebSocket) error {
			if err := client.WriteJSON(map[string]any{
				"type": "hello",
				"data": map[string]any{"clientId": clientID},
			}); err != nil {
				return errors.Wrap(err, "write hello payload")
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			f, ok := ws.ReadMessage[frame](m)
			if !ok || f.Type != "helloAck" {
				return false, nil
			}
			return true, nil
		},
	}); err != nil {
		stopRead()
		cancelConn()
		wss.Close()
		return errors.Wrap(err, "gateway hello handshake")
	}

	b.mu.Lock()
	b.wss = wss
	b.stopConn = func() {
		stopRead()
		cancelConn()
	}
	b.mu.Unlock()
	b.connected.Store(true)
	return nil
}

func (b *Bridge) Connected() bool {
	return b.connected.Load()
}

func (b *Bridge) Close() {
	b.connected.Store(false)

	b.mu.Lock()
	wss, stop := b.wss, b.stopConn
	b.wss, b.stopConn = nil, nil
	b.mu.Unlock()

	if stop != nil {
		stop()
	}
	if wss != nil {
		wss.Close()
	}
}

func (b *Bridge) RequestCurrentTime(ctx context.Context) error {
	return b.request(ctx, "reqCurrentTime", nil)
}

func (b *Bridge) RequestOpenOrders(ctx context.Context) error {
	return b.request(ctx, "reqOpenOrders", nil)
}

func (b *Bridge) RequestCompletedOrders(ctx context.Context) error {
	return b.request(ctx, "reqCompletedOrders", nil)
}

func (b *Bridge) RequestExecutions(ctx context.Context) error {
	return b.request(ctx, "reqExecutions", nil)
}

func (b *Bridge) CancelOrder(ctx context.Context, orderID int) error {
	return b.request(ctx, "cancelOrder", map[string]any{"orderId": orderID})
}

// request writes one typed frame and waits for the gateway's matching ack.
// The substantive answer arrives later on the fan-out channel and is routed
// through Handlers.
func (b *Bridge) request(ctx context.Context, reqType string, data map[string]any) error {
	b.mu.Lock()
	wss := b.wss
	b.mu.Unlock()
	if wss == nil || !b.connected.Load() {
		return ErrNotConnected
	}

	if err := wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, client *ws.WebSocket) error {
			payload := map[string]any{"type": reqType}
			if data != nil {
				payload["data"] = data
			}
			if err := client.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write "+reqType+" payload")
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			f, ok := ws.ReadMessage[frame](m)
			if !ok || f.Type != "ack" || f.For != reqType {
				return false, nil
			}
			return true, nil
		},
	}); err != nil {
		return errors.Wrap(err, "send "+reqType)
	}
	return nil
}

// startReader subscribes the fan-out channel and routes every inbound frame.
// An unexpected stream close only reports OnDisconnect while the bridge still
// considered itself connected; deliberate Close never does.
func (b *Bridge) startReader(ctx context.Context, wss *ws.WebSocket) func() {
	ch, cancel := wss.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, open := <-ch:
				if !open {
					if b.connected.CompareAndSwap(true, false) && b.handlers.OnDisconnect != nil {
						b.handlers.OnDisconnect(errors.New("gateway stream closed"))
					}
					return
				}
				b.dispatch(m)
			}
		}
	}()
	return cancel
}

func (b *Bridge) dispatch(m ws.Message) {
	f, ok := ws.ReadMessage[frame](m)
	if !ok {
		return
	}

	switch f.Type {
	case "currentTime":
		var data wireCurrentTime
		if !decodeData(f, &data) {
			return
		}
		if b.handlers.OnCurrentTime != nil {
			b.handlers.OnCurrentTime(time.Unix(data.Time, 0).UTC())
		}

	case "nextValidId":
		var data wireNextValidID
		if !decodeData(f, &data) {
			return
		}
		if b.handlers.OnNextValidID != nil {
			b.handlers.OnNextValidID(data.OrderID)
		}

	case "managedAccounts":
		var data wireManagedAccounts
		if !decodeData(f, &data) {
			return
		}
		if b.handlers.OnManagedAccounts != nil {
			b.handlers.OnManagedAccounts(splitAccounts(data.Accounts))
		}

	case "error":
		var data wireError
		if !decodeData(f, &data) {
			return
		}
		if b.handlers.OnError != nil {
			b.handlers.OnError(schema.APIError{
				ID:           data.ID,
				Code:         data.Code,
				Message:      data.Message,
				TimestampUTC: time.Now().UTC(),
			})
		}

	case "orderEvent":
		var data wireOrderEvent
		if !decodeData(f, &data) {
			return
		}
		if b.handlers.OnOrderEvent != nil {
			b.handlers.OnOrderEvent(schema.CanonicalOrderEvent{
				TimestampUTC: time.Unix(data.Timestamp, 0).UTC(),
				EventType:    data.EventType,
				OrderID:      data.OrderID,
				PermID:       data.PermID,
				Symbol:       data.Symbol,
				Action:       data.Action,
				OrderType:    data.OrderType,
				RawStatus:    data.Status,
				Filled:       toFloat(data.Filled),
				Remaining:    toFloat(data.Remaining),
				AvgFillPrice: toFloat(data.AvgFillPrice),
				Account:      data.Account,
				Reason:       data.Reason,
			})
		}

	case "openOrders":
		var data struct {
			Rows []wireOpenOrder `json:"rows"`
		}
		if !decodeData(f, &data) {
			return
		}
		if b.handlers.OnOpenOrders != nil {
			rows := make([]schema.OpenOrderRow, 0, len(data.Rows))
			for _, w := range data.Rows {
				rows = append(rows, schema.OpenOrderRow{
					OrderID:       w.OrderID,
					Symbol:        w.Symbol,
					SecurityType:  w.SecurityType,
					Exchange:      w.Exchange,
					Action:        w.Action,
					OrderType:     w.OrderType,
					TotalQuantity: toFloat(w.TotalQuantity),
					LimitPrice:    toFloat(w.LimitPrice),
					Status:        w.Status,
					Account:       w.Account,
				})
			}
			b.handlers.OnOpenOrders(rows)
		}

	case "completedOrders":
		var data struct {
			Rows []wireCompletedOrder `json:"rows"`
		}
		if !decodeData(f, &data) {
			return
		}
		if b.handlers.OnCompletedOrders != nil {
			rows := make([]schema.CompletedOrderRow, 0, len(data.Rows))
			for _, w := range data.Rows {
				rows = append(rows, schema.CompletedOrderRow{
					Symbol:        w.Symbol,
					SecurityType:  w.SecurityType,
					Exchange:      w.Exchange,
					Action:        w.Action,
					OrderType:     w.OrderType,
					TotalQuantity: toFloat(w.TotalQuantity),
					LimitPrice:    toFloat(w.LimitPrice),
					Status:        w.Status,
					Account:       w.Account,
					PermID:        w.PermID,
				})
			}
			b.handlers.OnCompletedOrders(rows)
		}

	case "executions":
		var data struct {
			Rows []wireExecution `json:"rows"`
		}
		if !decodeData(f, &data) {
			return
		}
		if b.handlers.OnExecutions != nil {
			rows := make([]schema.ExecutionRow, 0, len(data.Rows))
			for _, w := range data.Rows {
				rows = append(rows, schema.ExecutionRow{
					ExecID:       w.ExecID,
					OrderID:      w.OrderID,
					PermID:       w.PermID,
					Account:      w.Account,
					Symbol:       w.Symbol,
					SecurityType: w.SecurityType,
					Side:         w.Side,
					Shares:       toFloat(w.Shares),
					Price:        toFloat(w.Price),
					Time:         w.Time,
					Exchange:     w.Exchange,
					ClientID:     w.ClientID,
				})
			}
			b.handlers.OnExecutions(rows)
		}

	case "helloAck", "ack":
		// Sidecar waiters consume these; nothing to route.

	default:
		logs.Warnf("unhandled gateway frame type: %s", f.Type)
	}
}

func decodeData(f frame, out any) bool {
	if err := json.Unmarshal(f.Data, out); err != nil {
		logs.Errorf("decode %s frame, err: %+v", f.Type, err)
		return false
	}
	return true
}

func toFloat(d decimal.Decimal) float64 {
	f, err := strconv.ParseFloat(d.String(), 64)
	if err != nil {
		return 0
	}
	return f
}

func splitAccounts(raw string) []string {
	parts := strings.Split(raw, ",")
	accounts := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			accounts = append(accounts, trimmed)
		}
	}
	return accounts
}
