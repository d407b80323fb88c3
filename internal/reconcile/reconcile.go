package reconcile

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"main/internal/schema"
)

// Source tags record which snapshot feeds contributed to a ledger row.
const (
	SourceOpenOrder      = "open-order"
	SourceCompletedOrder = "completed-order"
	SourceExecution      = "execution"
)

// Diagnostic kinds emitted by Reconcile.
const (
	DiagCompletedWithoutOpen  = "completed_without_open"
	DiagExecutionWithoutOrder = "execution_without_order"
	DiagOpenWithoutExecution  = "open_without_execution"
)

// LedgerRow is the canonical, deduplicated view of one logical order merged
// across the three snapshot feeds. Commission is populated by an external
// enrichment step, never by the merge itself.
type LedgerRow struct {
	CanonicalKey     string
	OrderID          *int
	PermID           *int
	Account          string
	Symbol           string
	SecurityType     string
	Action           string
	OrderType        string
	Status           string
	TotalQuantity    float64
	FilledQuantity   float64
	AverageFillPrice *float64
	ExecutionCount   int
	Commission       *float64
	Sources          []string
}

// DiagnosticRow flags one reconciliation finding.
type DiagnosticRow struct {
	Kind         string
	CanonicalKey string
	Message      string
}

// Result is the output of one reconciliation pass.
type Result struct {
	Ledger      []LedgerRow
	Diagnostics []DiagnosticRow
}

// Reconcile merges the three point-in-time snapshot feeds into one canonical
// ledger. Key precedence is orderId over permId over a synthetic
// symbol/account key; the ledger never holds two rows for the same key. The
// merge is a pure batch transform: input ordering inside each feed does not
// change the resulting ledger.
func Reconcile(openOrders []schema.OpenOrderRow, completedOrders []schema.CompletedOrderRow, executions []schema.ExecutionRow) Result {
	rows := make(map[string]*LedgerRow)
	var diagnostics []DiagnosticRow

	// Executions are the only feed carrying both ids; they bridge completed
	// orders (permId only) back to open-order rows (orderId keyed).
	orderIDByPermID := make(map[int]int)
	for _, exec := range executions {
		if exec.PermID > 0 && exec.OrderID > 0 {
			if _, ok := orderIDByPermID[exec.PermID]; !ok {
				orderIDByPermID[exec.PermID] = exec.OrderID
			}
		}
	}

	for _, order := range openOrders {
		orderID := order.OrderID
		key := keyByOrderID(orderID)
		rows[key] = &LedgerRow{
			CanonicalKey:  key,
			OrderID:       &orderID,
			Account:       order.Account,
			Symbol:        order.Symbol,
			SecurityType:  order.SecurityType,
			Action:        order.Action,
			OrderType:     order.OrderType,
			Status:        order.Status,
			TotalQuantity: order.TotalQuantity,
			Sources:       []string{SourceOpenOrder},
		}
	}

	for _, completed := range completedOrders {
		mappedOrderID := 0
		var key string
		if id, ok := orderIDByPermID[completed.PermID]; completed.PermID > 0 && ok {
			mappedOrderID = id
			key = keyByOrderID(id)
		} else {
			key = keyByPermID(completed.PermID)
		}

		existing, ok := rows[key]
		if !ok {
			permID := completed.PermID
			row := &LedgerRow{
				CanonicalKey:  key,
				PermID:        &permID,
				Account:       completed.Account,
				Symbol:        completed.Symbol,
				SecurityType:  completed.SecurityType,
				Action:        completed.Action,
				OrderType:     completed.OrderType,
				Status:        completed.Status,
				TotalQuantity: completed.TotalQuantity,
				Sources:       []string{SourceCompletedOrder},
			}
			if mappedOrderID > 0 {
				row.OrderID = &mappedOrderID
			}
			rows[key] = row
			diagnostics = append(diagnostics, DiagnosticRow{
				Kind:         DiagCompletedWithoutOpen,
				CanonicalKey: key,
				Message:      fmt.Sprintf("Completed order found without prior open-order row (permId=%d).", completed.PermID),
			})
			continue
		}

		if completed.PermID > 0 {
			permID := completed.PermID
			existing.PermID = &permID
		}
		existing.Status = completed.Status
		existing.Sources = mergeSources(existing.Sources, SourceCompletedOrder)
	}

	groups := make(map[string][]schema.ExecutionRow)
	for _, exec := range executions {
		key := resolveExecutionKey(exec)
		groups[key] = append(groups[key], exec)
	}

	// Deterministic merge order so diagnostics come out stable.
	groupKeys := make([]string, 0, len(groups))
	for key := range groups {
		groupKeys = append(groupKeys, key)
	}
	sort.Strings(groupKeys)

	for _, key := range groupKeys {
		execs := groups[key]

		var totalShares, weightedNotional, netFilled float64
		for _, exec := range execs {
			shares := math.Abs(exec.Shares)
			totalShares += shares
			weightedNotional += shares * exec.Price
			if isBuySide(exec.Side) {
				netFilled += shares
			} else {
				netFilled -= shares
			}
		}
		var avgPrice *float64
		if totalShares > 0 {
			avg := weightedNotional / totalShares
			avgPrice = &avg
		}

		existing, ok := rows[key]
		if !ok {
			first := execs[0]
			row := &LedgerRow{
				CanonicalKey:     key,
				Account:          first.Account,
				Symbol:           first.Symbol,
				SecurityType:     first.SecurityType,
				Action:           "SELL",
				OrderType:        "UNKNOWN",
				Status:           "EXECUTION_ONLY",
				TotalQuantity:    math.Abs(netFilled),
				FilledQuantity:   math.Abs(netFilled),
				AverageFillPrice: avgPrice,
				ExecutionCount:   len(execs),
				Sources:          []string{SourceExecution},
			}
			if netFilled >= 0 {
				row.Action = "BUY"
			}
			if first.OrderID > 0 {
				orderID := first.OrderID
				row.OrderID = &orderID
			}
			if first.PermID > 0 {
				permID := first.PermID
				row.PermID = &permID
			}
			rows[key] = row
			diagnostics = append(diagnostics, DiagnosticRow{
				Kind:         DiagExecutionWithoutOrder,
				CanonicalKey: key,
				Message:      fmt.Sprintf("Execution rows found without matching open/completed order metadata (execCount=%d).", len(execs)),
			})
			continue
		}

		if existing.PermID == nil && execs[0].PermID > 0 {
			permID := execs[0].PermID
			existing.PermID = &permID
		}
		existing.FilledQuantity = math.Abs(netFilled)
		existing.AverageFillPrice = avgPrice
		existing.ExecutionCount = len(execs)
		existing.Sources = mergeSources(existing.Sources, SourceExecution)
	}

	ledger := make([]LedgerRow, 0, len(rows))
	for _, row := range rows {
		ledger = append(ledger, *row)
	}
	sort.Slice(ledger, func(i, j int) bool {
		return ledger[i].CanonicalKey < ledger[j].CanonicalKey
	})

	for _, row := range ledger {
		if hasSource(row.Sources, SourceOpenOrder) &&
			!hasSource(row.Sources, SourceExecution) &&
			!strings.EqualFold(row.Status, "Cancelled") {
			diagnostics = append(diagnostics, DiagnosticRow{
				Kind:         DiagOpenWithoutExecution,
				CanonicalKey: row.CanonicalKey,
				Message:      "Open order has no matched execution rows in current snapshot window.",
			})
		}
	}

	return Result{Ledger: ledger, Diagnostics: diagnostics}
}

func resolveExecutionKey(exec schema.ExecutionRow) string {
	if exec.OrderID > 0 {
		return keyByOrderID(exec.OrderID)
	}
	if exec.PermID > 0 {
		return keyByPermID(exec.PermID)
	}
	return fmt.Sprintf("SYM:%s|ACC:%s", exec.Symbol, exec.Account)
}

func keyByOrderID(orderID int) string { return fmt.Sprintf("OID:%d", orderID) }
func keyByPermID(permID int) string   { return fmt.Sprintf("PID:%d", permID) }

func isBuySide(side string) bool {
	return strings.EqualFold(side, "BOT") || strings.EqualFold(side, "BUY")
}

func mergeSources(sources []string, source string) []string {
	if hasSource(sources, source) {
		return sources
	}
	return append(sources, source)
}

func hasSource(sources []string, source string) bool {
	for _, s := range sources {
		if strings.EqualFold(s, source) {
			return true
		}
	}
	return false
}
