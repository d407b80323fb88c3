package schema

import "fmt"

// RunMode selects the operating workflow for a single run. It only changes
// which requests are issued and which error-policy overrides apply; the
// connection and audit machinery is identical across modes.
type RunMode uint16

const (
	RunModeUnknown RunMode = iota
	RunModeConnect
	RunModeOrders
	RunModePositions
	RunModeSnapshotAll
	RunModeContractsValidate
	RunModeOrdersDryRun
	RunModeOrdersPlaceSim
	RunModeOrdersWhatIf
	RunModeOrdersCancelSim
	RunModeTopData
	RunModeMarketDepth
	RunModeRealtimeBars
	RunModeMarketDataAll
	RunModeHistoricalBars
	RunModeHistoricalBarsKeepUpToDate
	RunModeHistogram
	RunModeHistoricalTicks
	RunModeHeadTimestamp
	RunModeOptionGreeks
	RunModeFundamentalData
	RunModeFaAllocationGroups
	RunModeFaGroupsProfiles
	RunModeFaUnification
	RunModeFaModelPortfolios
	RunModeFaOrder
	RunModeScannerExamples
	RunModeScannerComplex
	RunModeScannerParameters
	RunModeScannerWorkbench
	RunModeDisplayGroupsQuery
	RunModeDisplayGroupsSubscribe
	RunModeDisplayGroupsUpdate
	RunModeDisplayGroupsUnsubscribe
	RunModeReconcile
	RunModeOrderLifecycle
)

var runModeNames = map[RunMode]string{
	RunModeUnknown:                    "unknown",
	RunModeConnect:                    "connect",
	RunModeOrders:                     "orders",
	RunModePositions:                  "positions",
	RunModeSnapshotAll:                "snapshot-all",
	RunModeContractsValidate:          "contracts-validate",
	RunModeOrdersDryRun:               "orders-dry-run",
	RunModeOrdersPlaceSim:             "orders-place-sim",
	RunModeOrdersWhatIf:               "orders-what-if",
	RunModeOrdersCancelSim:            "orders-cancel-sim",
	RunModeTopData:                    "top-data",
	RunModeMarketDepth:                "market-depth",
	RunModeRealtimeBars:               "realtime-bars",
	RunModeMarketDataAll:              "market-data-all",
	RunModeHistoricalBars:             "historical-bars",
	RunModeHistoricalBarsKeepUpToDate: "historical-bars-keep-up-to-date",
	RunModeHistogram:                  "histogram",
	RunModeHistoricalTicks:            "historical-ticks",
	RunModeHeadTimestamp:              "head-timestamp",
	RunModeOptionGreeks:               "option-greeks",
	RunModeFundamentalData:            "fundamental-data",
	RunModeFaAllocationGroups:         "fa-allocation-groups",
	RunModeFaGroupsProfiles:           "fa-groups-profiles",
	RunModeFaUnification:              "fa-unification",
	RunModeFaModelPortfolios:          "fa-model-portfolios",
	RunModeFaOrder:                    "fa-order",
	RunModeScannerExamples:            "scanner-examples",
	RunModeScannerComplex:             "scanner-complex",
	RunModeScannerParameters:          "scanner-parameters",
	RunModeScannerWorkbench:           "scanner-workbench",
	RunModeDisplayGroupsQuery:         "display-groups-query",
	RunModeDisplayGroupsSubscribe:     "display-groups-subscribe",
	RunModeDisplayGroupsUpdate:        "display-groups-update",
	RunModeDisplayGroupsUnsubscribe:   "display-groups-unsubscribe",
	RunModeReconcile:                  "reconcile",
	RunModeOrderLifecycle:             "order-lifecycle",
}

var runModeValues = func() map[string]RunMode {
	m := make(map[string]RunMode, len(runModeNames))
	for mode, name := range runModeNames {
		m[name] = mode
	}
	return m
}()

func (m RunMode) String() string {
	if name, ok := runModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("run-mode(%d)", uint16(m))
}

// ParseRunMode resolves a mode name to its RunMode value.
func ParseRunMode(name string) (RunMode, error) {
	if mode, ok := runModeValues[name]; ok {
		return mode, nil
	}
	return RunModeUnknown, fmt.Errorf("unknown run mode: %q", name)
}

// MarshalText encodes the mode by name for JSON configs.
func (m RunMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name from JSON configs.
func (m *RunMode) UnmarshalText(text []byte) error {
	mode, err := ParseRunMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// IsFaWorkflow reports whether the mode runs a financial-advisor workflow.
func (m RunMode) IsFaWorkflow() bool {
	switch m {
	case RunModeFaAllocationGroups,
		RunModeFaGroupsProfiles,
		RunModeFaUnification,
		RunModeFaModelPortfolios,
		RunModeFaOrder:
		return true
	default:
		return false
	}
}

// IsScannerWorkflow reports whether the mode runs a scanner workflow.
func (m RunMode) IsScannerWorkflow() bool {
	switch m {
	case RunModeScannerExamples,
		RunModeScannerComplex,
		RunModeScannerParameters,
		RunModeScannerWorkbench:
		return true
	default:
		return false
	}
}

// IsDisplayGroupsWorkflow reports whether the mode runs a display-groups workflow.
func (m RunMode) IsDisplayGroupsWorkflow() bool {
	switch m {
	case RunModeDisplayGroupsQuery,
		RunModeDisplayGroupsSubscribe,
		RunModeDisplayGroupsUpdate,
		RunModeDisplayGroupsUnsubscribe:
		return true
	default:
		return false
	}
}
