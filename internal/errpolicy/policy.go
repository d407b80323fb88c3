package errpolicy

import (
	"strings"

	"main/internal/schema"
)

// Action is the base disposition of a classified protocol error.
type Action uint16

const (
	ActionIgnore Action = iota
	ActionWarn
	ActionRetry
	ActionHardFail
)

func (a Action) String() string {
	switch a {
	case ActionIgnore:
		return "ignore"
	case ActionWarn:
		return "warn"
	case ActionRetry:
		return "retry"
	case ActionHardFail:
		return "hard-fail"
	default:
		return "unknown"
	}
}

// Decision is the outcome of classifying one protocol error.
type Decision struct {
	Action Action
	Reason string
}

// informationalCodes are status notices the broker emits during normal
// operation (farm connectivity, data availability, entitlement notes).
var informationalCodes = map[int]struct{}{
	2100: {}, 2104: {}, 2106: {}, 2158: {},
	10089: {}, 10167: {}, 10168: {}, 10187: {},
	10285: {}, 354: {}, 322: {}, 300: {}, 310: {}, 420: {},
}

// retryableCodes signal lost or restored broker connectivity; they are the
// reconnect triggers the heartbeat monitor reacts to.
var retryableCodes = map[int]struct{}{
	1100: {}, 1101: {}, 1102: {},
}

// scannerExpectedCodes are validation/warning codes the scanner workflows
// provoke with their own request shapes.
var scannerExpectedCodes = map[int]struct{}{
	162: {}, 200: {}, 300: {}, 321: {}, 354: {}, 365: {}, 420: {}, 10186: {}, 10337: {},
}

// RetryableCode reports whether a code belongs to the fixed
// connectivity/retryable set.
func RetryableCode(code int) bool {
	_, ok := retryableCodes[code]
	return ok
}

// Evaluate classifies a protocol error for the given workflow. The code
// tables apply regardless of mode; mode-contextual overrides reclassify
// responses a workflow is expected to provoke; everything else hard-fails.
// Identical inputs always produce identical decisions.
func Evaluate(apiErr schema.APIError, mode schema.RunMode, optionGreeksAutoFallback bool) Decision {
	if apiErr.Code == nil {
		return Decision{ActionWarn, "unclassified error payload"}
	}

	code := *apiErr.Code
	message := apiErr.Message

	if _, ok := informationalCodes[code]; ok {
		return Decision{ActionWarn, "informational/non-blocking code"}
	}

	if _, ok := retryableCodes[code]; ok {
		return Decision{ActionRetry, "connectivity/retryable code"}
	}

	if code == 162 && containsFold(message, "query cancelled") {
		return Decision{ActionWarn, "expected query cancellation"}
	}

	if mode == schema.RunModeOptionGreeks && optionGreeksAutoFallback {
		expectedProbe := apiErr.ID != nil &&
			(*apiErr.ID == 98040 || *apiErr.ID == 9804) &&
			(code == 200 || code == 300)
		if expectedProbe {
			return Decision{ActionWarn, "expected option probe error during auto-fallback"}
		}
	}

	if mode.IsFaWorkflow() && code == 321 {
		expectedFaValidation := containsFold(message, "FA data operations ignored for non FA customers") ||
			containsFold(message, "Model name") ||
			containsFold(message, "cause - Model")
		if expectedFaValidation {
			return Decision{ActionWarn, "expected FA validation path"}
		}
	}

	if mode == schema.RunModeFundamentalData && code == 10358 {
		return Decision{ActionWarn, "fundamental data entitlement/availability warning"}
	}

	if mode.IsScannerWorkflow() {
		if _, ok := scannerExpectedCodes[code]; ok {
			return Decision{ActionWarn, "scanner expected warning path"}
		}
	}

	if mode.IsDisplayGroupsWorkflow() && (code == 321 || code == 344 || code == 365) {
		return Decision{ActionWarn, "display-groups expected validation/warning path"}
	}

	return Decision{ActionHardFail, "default hard-fail classification"}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
