package domain

import "time"

// Stage marks how far a pending transaction has progressed through the
// staging pipeline. Transitions only move forward; re-entering the
// amount stage discards everything derived after it.
type Stage string

const (
	StageUninitialized      Stage = "uninitialized"
	StageInitialized        Stage = "initialized"
	StageAmountUpdated      Stage = "amount_updated"
	StageValidated          Stage = "validated"
	StageConfirmationsBuilt Stage = "confirmations_built"
	StageExecuted           Stage = "executed"
)

// ValidationState is the outcome of the last validation pass. Only
// ValidationCanExecute permits progression to execute.
type ValidationState string

const (
	ValidationUninitialized     ValidationState = "uninitialized"
	ValidationCanExecute        ValidationState = "can_execute"
	ValidationInsufficientFunds ValidationState = "insufficient_funds"
	ValidationBelowMinimumLimit ValidationState = "below_minimum_limit"
	ValidationOverMaximumLimit  ValidationState = "over_maximum_limit"
	ValidationInvalidAmount     ValidationState = "invalid_amount"
	ValidationOptionInvalid     ValidationState = "option_invalid"
	ValidationUnknownError      ValidationState = "unknown_error"
)

// FeeLevel selects a fee tier. Custodial deposits carry no network fee,
// so only FeeLevelNone applies.
type FeeLevel string

const FeeLevelNone FeeLevel = "none"

// FeeSelection holds the chosen fee tier and the tiers on offer.
type FeeSelection struct {
	Selected  FeeLevel   `json:"selected"`
	Available []FeeLevel `json:"available"`
}

// ConfirmationKind tags one line of the confirmation summary.
type ConfirmationKind string

const (
	ConfirmationSource      ConfirmationKind = "source"
	ConfirmationDestination ConfirmationKind = "destination"
	ConfirmationTotal       ConfirmationKind = "total"
)

// Confirmation is one ordered line of the pre-execute summary shown to
// the caller.
type Confirmation struct {
	Kind  ConfirmationKind `json:"kind"`
	Value string           `json:"value,omitempty"`
	Total *TotalBreakdown  `json:"total,omitempty"`
}

// TotalBreakdown carries the amount and fee with their fiat equivalents.
type TotalBreakdown struct {
	Amount     Money `json:"amount"`
	AmountFiat Money `json:"amount_fiat"`
	Fee        Money `json:"fee"`
	FeeFiat    Money `json:"fee_fiat"`
}

// PendingTransaction is the mutable record threaded through the staging
// pipeline. It is owned by a single pipeline instance and never shared
// across concurrent attempts for the same transfer.
type PendingTransaction struct {
	Stage               Stage           `json:"stage"`
	Amount              Money           `json:"amount"`
	Available           Money           `json:"available"`
	FeeAmount           Money           `json:"fee_amount"`
	FeeForFullAvailable Money           `json:"fee_for_full_available"`
	FeeSelection        FeeSelection    `json:"fee_selection"`
	DisplayCurrency     Currency        `json:"display_currency"`
	Limits              DepositLimits   `json:"limits"`
	TermsAccepted       bool            `json:"terms_accepted"`
	AgreementAccepted   bool            `json:"agreement_accepted"`
	Confirmations       []Confirmation  `json:"confirmations,omitempty"`
	ValidationState     ValidationState `json:"validation_state"`
}

// CanExecute reports whether the last validation pass allows execution.
func (p *PendingTransaction) CanExecute() bool {
	return p.ValidationState == ValidationCanExecute
}

// ResetDerived drops validation results and confirmations. Called when
// the amount changes after later stages already ran.
func (p *PendingTransaction) ResetDerived() {
	p.ValidationState = ValidationUninitialized
	p.Confirmations = nil
}

// TransferReceipt is the custody backend's acknowledgement of a
// submitted transfer.
type TransferReceipt struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// TransactionResult is the terminal output of the pipeline. Custodial
// transfers have no on-chain hash at submission time, so the result is
// always unconfirmed.
type TransactionResult struct {
	Amount    Money  `json:"amount"`
	ReceiptID string `json:"receipt_id"`
	Confirmed bool   `json:"confirmed"`
}
