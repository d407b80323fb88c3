package schema

import "time"

// CanonicalOrderEvent is the normalized order event produced by the broker
// adapter from raw protocol callbacks. RawStatus keeps the broker's status
// token untouched so downstream normalization stays auditable.
type CanonicalOrderEvent struct {
	TimestampUTC time.Time `json:"timestampUtc"`
	EventType    string    `json:"eventType"`
	OrderID      int       `json:"orderId"`
	PermID       int       `json:"permId"`
	Symbol       string    `json:"symbol"`
	Action       string    `json:"action"`
	OrderType    string    `json:"orderType"`
	RawStatus    string    `json:"rawStatus"`
	Filled       float64   `json:"filled"`
	Remaining    float64   `json:"remaining"`
	AvgFillPrice float64   `json:"avgFillPrice"`
	Account      string    `json:"account"`
	Reason       string    `json:"reason"`
}

// OpenOrderRow is one row of the open-orders snapshot feed.
type OpenOrderRow struct {
	OrderID       int     `json:"orderId"`
	Symbol        string  `json:"symbol"`
	SecurityType  string  `json:"securityType"`
	Exchange      string  `json:"exchange"`
	Action        string  `json:"action"`
	OrderType     string  `json:"orderType"`
	TotalQuantity float64 `json:"totalQuantity"`
	LimitPrice    float64 `json:"limitPrice"`
	Status        string  `json:"status"`
	Account       string  `json:"account"`
}

// CompletedOrderRow is one row of the completed-orders snapshot feed. The
// broker omits the session-scoped order id here; PermID is the only stable
// identifier.
type CompletedOrderRow struct {
	Symbol        string  `json:"symbol"`
	SecurityType  string  `json:"securityType"`
	Exchange      string  `json:"exchange"`
	Action        string  `json:"action"`
	OrderType     string  `json:"orderType"`
	TotalQuantity float64 `json:"totalQuantity"`
	LimitPrice    float64 `json:"limitPrice"`
	Status        string  `json:"status"`
	Account       string  `json:"account"`
	PermID        int     `json:"permId"`
}

// ExecutionRow is one row of the executions snapshot feed.
type ExecutionRow struct {
	ExecID       string  `json:"execId"`
	OrderID      int     `json:"orderId"`
	PermID       int     `json:"permId"`
	Account      string  `json:"account"`
	Symbol       string  `json:"symbol"`
	SecurityType string  `json:"securityType"`
	Side         string  `json:"side"`
	Shares       float64 `json:"shares"`
	Price        float64 `json:"price"`
	Time         string  `json:"time"`
	Exchange     string  `json:"exchange"`
	ClientID     int     `json:"clientId"`
}
