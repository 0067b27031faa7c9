package domain

// DepositLimits holds the deposit bounds for an asset, fetched fresh per
// validation pass. Optional bounds are nil when the backend does not
// impose them.
type DepositLimits struct {
	Currency      Currency `json:"currency"`
	Minimum       Money    `json:"minimum"`
	Maximum       *Money   `json:"maximum,omitempty"`
	MaximumDaily  *Money   `json:"maximum_daily,omitempty"`
	MaximumAnnual *Money   `json:"maximum_annual,omitempty"`
}
