package errpolicy

import (
	"time"

	"main/internal/schema"
)

// Disposition is the externally visible consequence of an API error.
type Disposition uint16

const (
	DispositionIgnored Disposition = iota
	DispositionWarning
	DispositionRetryable
	DispositionNonBlocking
	DispositionBlocking
)

func (d Disposition) String() string {
	switch d {
	case DispositionIgnored:
		return "ignored"
	case DispositionWarning:
		return "warning"
	case DispositionRetryable:
		return "retryable"
	case DispositionNonBlocking:
		return "non-blocking"
	case DispositionBlocking:
		return "blocking"
	default:
		return "unknown"
	}
}

// Classification refines a base Decision with workflow-specific
// outcome-reinterpreting rules.
type Classification struct {
	Disposition  Disposition
	PolicyAction Action
	Reason       string
}

// Blocking reports whether the classification fails the run.
func (c Classification) Blocking() bool {
	return c.Disposition == DispositionBlocking
}

// NormalizationRow is the audit-export form of one classified error.
type NormalizationRow struct {
	TimestampUTC time.Time
	ID           *int
	Code         *int
	Message      string
	Disposition  Disposition
	PolicyAction Action
	Blocking     bool
	Reason       string
}

// ClassifyAPIError layers outcome-reinterpreting rules ahead of Evaluate:
// some error callbacks are really confirmations (deferred acceptance,
// idempotent cancel outcomes) and must not block the run even though the
// base tables would hard-fail them.
func ClassifyAPIError(apiErr schema.APIError, opts schema.RuntimeOptions) Classification {
	if isExchangeDeferralWarning(apiErr) {
		return Classification{
			Disposition:  DispositionNonBlocking,
			PolicyAction: ActionWarn,
			Reason:       "exchange deferral warning (order accepted for next session window)",
		}
	}

	if isSoftenedCancelNotFound(apiErr, opts) {
		return Classification{
			Disposition:  DispositionNonBlocking,
			PolicyAction: ActionWarn,
			Reason:       "idempotent cancel not-found confirmation",
		}
	}

	if isCancelSuccessConfirmation(apiErr, opts) {
		return Classification{
			Disposition:  DispositionNonBlocking,
			PolicyAction: ActionWarn,
			Reason:       "cancel success confirmation callback",
		}
	}

	decision := Evaluate(apiErr, opts.Mode, opts.OptionGreeksAutoFallback)
	return Classification{
		Disposition:  dispositionFor(decision.Action),
		PolicyAction: decision.Action,
		Reason:       decision.Reason,
	}
}

// Normalize builds the audit-export row for a classified error.
func Normalize(apiErr schema.APIError, c Classification) NormalizationRow {
	ts := apiErr.TimestampUTC
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return NormalizationRow{
		TimestampUTC: ts,
		ID:           apiErr.ID,
		Code:         apiErr.Code,
		Message:      apiErr.Message,
		Disposition:  c.Disposition,
		PolicyAction: c.PolicyAction,
		Blocking:     c.Blocking(),
		Reason:       c.Reason,
	}
}

func dispositionFor(action Action) Disposition {
	switch action {
	case ActionIgnore:
		return DispositionIgnored
	case ActionWarn:
		return DispositionWarning
	case ActionRetry:
		return DispositionRetryable
	case ActionHardFail:
		return DispositionBlocking
	default:
		return DispositionWarning
	}
}

func isExchangeDeferralWarning(apiErr schema.APIError) bool {
	if apiErr.Code == nil || *apiErr.Code != 399 {
		return false
	}
	return containsFold(apiErr.Message, "will not be placed at the exchange until") ||
		containsFold(apiErr.Message, "outside regular trading hours")
}

func isSoftenedCancelNotFound(apiErr schema.APIError, opts schema.RuntimeOptions) bool {
	if !opts.CancelOrderIdempotent || opts.Mode != schema.RunModeOrdersCancelSim {
		return false
	}
	if apiErr.Code == nil || *apiErr.Code != 10147 {
		return false
	}
	if opts.CancelOrderID > 0 && apiErr.ID != nil && *apiErr.ID != opts.CancelOrderID {
		return false
	}
	return containsFold(apiErr.Message, "needs to be cancelled is not found") ||
		containsFold(apiErr.Message, "not found")
}

func isCancelSuccessConfirmation(apiErr schema.APIError, opts schema.RuntimeOptions) bool {
	if opts.Mode != schema.RunModeOrdersCancelSim {
		return false
	}
	if apiErr.Code == nil || *apiErr.Code != 202 {
		return false
	}
	if opts.CancelOrderID > 0 && apiErr.ID != nil && *apiErr.ID != opts.CancelOrderID {
		return false
	}
	return containsFold(apiErr.Message, "order canceled") ||
		containsFold(apiErr.Message, "order cancelled")
}
