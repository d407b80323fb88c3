package reconcile

import (
	"testing"

	"main/internal/schema"
)

func TestReconcileMergesAllThreeFeeds(t *testing.T) {
	openOrders := []schema.OpenOrderRow{
		{OrderID: 5, Symbol: "AAPL", SecurityType: "STK", Action: "BUY", OrderType: "LMT", TotalQuantity: 100, Status: "Submitted", Account: "DU123"},
	}
	completedOrders := []schema.CompletedOrderRow{
		{PermID: 9001, Symbol: "AAPL", SecurityType: "STK", Action: "BUY", OrderType: "LMT", TotalQuantity: 100, Status: "Filled", Account: "DU123"},
	}
	executions := []schema.ExecutionRow{
		{ExecID: "e1", OrderID: 5, PermID: 9001, Account: "DU123", Symbol: "AAPL", SecurityType: "STK", Side: "BOT", Shares: 40, Price: 10.0},
		{ExecID: "e2", OrderID: 5, PermID: 9001, Account: "DU123", Symbol: "AAPL", SecurityType: "STK", Side: "BOT", Shares: 60, Price: 11.0},
	}

	result := Reconcile(openOrders, completedOrders, executions)

	if len(result.Ledger) != 1 {
		t.Fatalf("ledger length mismatch! should be %d but got %d", 1, len(result.Ledger))
	}
	row := result.Ledger[0]
	if row.CanonicalKey != "OID:5" {
		t.Fatalf("canonical key mismatch! should be %s but got %s", "OID:5", row.CanonicalKey)
	}
	if row.PermID == nil || *row.PermID != 9001 {
		t.Fatalf("perm id should be resolved to 9001, got %v", row.PermID)
	}
	if row.Status != "Filled" {
		t.Fatalf("status mismatch! should be %s but got %s", "Filled", row.Status)
	}
	if row.FilledQuantity != 100 {
		t.Fatalf("filled quantity mismatch! should be %v but got %v", 100.0, row.FilledQuantity)
	}
	if row.AverageFillPrice == nil || *row.AverageFillPrice != 10.6 {
		t.Fatalf("average fill price should be 10.6, got %v", row.AverageFillPrice)
	}
	if row.ExecutionCount != 2 {
		t.Fatalf("execution count mismatch! should be %d but got %d", 2, row.ExecutionCount)
	}
	for _, want := range []string{SourceOpenOrder, SourceCompletedOrder, SourceExecution} {
		if !hasSource(row.Sources, want) {
			t.Fatalf("sources should contain %s, got %v", want, row.Sources)
		}
	}
	for _, d := range result.Diagnostics {
		if d.Kind == DiagOpenWithoutExecution {
			t.Fatalf("fully executed order should not be flagged %s", DiagOpenWithoutExecution)
		}
	}
}

func TestReconcileExecutionOnlyRow(t *testing.T) {
	executions := []schema.ExecutionRow{
		{ExecID: "x1", PermID: 777, Account: "DU123", Symbol: "TSLA", SecurityType: "STK", Side: "SLD", Shares: 30, Price: 250.0},
	}

	result := Reconcile(nil, nil, executions)

	if len(result.Ledger) != 1 {
		t.Fatalf("ledger length mismatch! should be %d but got %d", 1, len(result.Ledger))
	}
	row := result.Ledger[0]
	if row.CanonicalKey != "PID:777" {
		t.Fatalf("canonical key mismatch! should be %s but got %s", "PID:777", row.CanonicalKey)
	}
	if row.Status != "EXECUTION_ONLY" {
		t.Fatalf("status mismatch! should be %s but got %s", "EXECUTION_ONLY", row.Status)
	}
	if row.Action != "SELL" {
		t.Fatalf("action mismatch! should be %s but got %s", "SELL", row.Action)
	}
	if row.FilledQuantity != 30 {
		t.Fatalf("filled quantity mismatch! should be %v but got %v", 30.0, row.FilledQuantity)
	}

	if len(result.Diagnostics) != 1 {
		t.Fatalf("diagnostics length mismatch! should be %d but got %d", 1, len(result.Diagnostics))
	}
	if result.Diagnostics[0].Kind != DiagExecutionWithoutOrder {
		t.Fatalf("diagnostic kind mismatch! should be %s but got %s", DiagExecutionWithoutOrder, result.Diagnostics[0].Kind)
	}
}

func TestReconcileCompletedWithoutOpen(t *testing.T) {
	completedOrders := []schema.CompletedOrderRow{
		{PermID: 4242, Symbol: "MSFT", SecurityType: "STK", Action: "SELL", OrderType: "MKT", TotalQuantity: 10, Status: "Filled", Account: "DU123"},
	}

	result := Reconcile(nil, completedOrders, nil)

	if len(result.Ledger) != 1 {
		t.Fatalf("ledger length mismatch! should be %d but got %d", 1, len(result.Ledger))
	}
	if result.Ledger[0].CanonicalKey != "PID:4242" {
		t.Fatalf("canonical key mismatch! should be %s but got %s", "PID:4242", result.Ledger[0].CanonicalKey)
	}
	if len(result.Diagnostics) != 1 || result.Diagnostics[0].Kind != DiagCompletedWithoutOpen {
		t.Fatalf("should flag one %s diagnostic, got %v", DiagCompletedWithoutOpen, result.Diagnostics)
	}
}

func TestReconcileOpenWithoutExecution(t *testing.T) {
	openOrders := []schema.OpenOrderRow{
		{OrderID: 7, Symbol: "NVDA", SecurityType: "STK", Action: "BUY", OrderType: "LMT", TotalQuantity: 5, Status: "Submitted", Account: "DU123"},
		{OrderID: 8, Symbol: "NVDA", SecurityType: "STK", Action: "BUY", OrderType: "LMT", TotalQuantity: 5, Status: "Cancelled", Account: "DU123"},
	}

	result := Reconcile(openOrders, nil, nil)

	var flagged []string
	for _, d := range result.Diagnostics {
		if d.Kind == DiagOpenWithoutExecution {
			flagged = append(flagged, d.CanonicalKey)
		}
	}
	if len(flagged) != 1 || flagged[0] != "OID:7" {
		t.Fatalf("only the live unfilled order should be flagged, got %v", flagged)
	}
}

func TestReconcileInputOrderInsensitive(t *testing.T) {
	openOrders := []schema.OpenOrderRow{
		{OrderID: 1, Symbol: "AAPL", Action: "BUY", OrderType: "LMT", TotalQuantity: 10, Status: "Submitted", Account: "DU123"},
		{OrderID: 2, Symbol: "TSLA", Action: "SELL", OrderType: "LMT", TotalQuantity: 20, Status: "Submitted", Account: "DU123"},
	}
	completedOrders := []schema.CompletedOrderRow{
		{PermID: 11, Symbol: "AAPL", Action: "BUY", OrderType: "LMT", TotalQuantity: 10, Status: "Filled", Account: "DU123"},
	}
	executions := []schema.ExecutionRow{
		{ExecID: "a", OrderID: 1, PermID: 11, Account: "DU123", Symbol: "AAPL", Side: "BOT", Shares: 10, Price: 5.0},
		{ExecID: "b", OrderID: 2, PermID: 22, Account: "DU123", Symbol: "TSLA", Side: "SLD", Shares: 20, Price: 6.0},
	}

	forward := Reconcile(openOrders, completedOrders, executions)

	reversed := Reconcile(
		[]schema.OpenOrderRow{openOrders[1], openOrders[0]},
		completedOrders,
		[]schema.ExecutionRow{executions[1], executions[0]},
	)

	if len(forward.Ledger) != len(reversed.Ledger) {
		t.Fatalf("ledger length mismatch! should be %d but got %d", len(forward.Ledger), len(reversed.Ledger))
	}
	for i := range forward.Ledger {
		f, r := forward.Ledger[i], reversed.Ledger[i]
		if f.CanonicalKey != r.CanonicalKey {
			t.Fatalf("canonical key mismatch at %d! should be %s but got %s", i, f.CanonicalKey, r.CanonicalKey)
		}
		if f.FilledQuantity != r.FilledQuantity || f.ExecutionCount != r.ExecutionCount || f.Status != r.Status {
			t.Fatalf("row %s diverged across input orderings", f.CanonicalKey)
		}
	}
}
