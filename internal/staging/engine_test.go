package staging

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tellerhq/teller/internal/core/domain"
)

// fakeBackend plays all four provider roles and counts every remote
// call, so tests can assert exactly when the engine goes to the wire.
type fakeBackend struct {
	mu sync.Mutex

	balance domain.Money
	minimum domain.Money // fiat-denominated
	price   string

	balanceErr error
	limitsErr  error
	rateErr    error
	submitErr  error

	balanceCalls int
	limitsCalls  int
	rateCalls    int
	submitCalls  int

	lastIdemKey string
	receiptID   string
}

func (f *fakeBackend) Balance(ctx context.Context, account string) (domain.Money, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	if f.balanceErr != nil {
		return domain.Money{}, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeBackend) DepositLimits(ctx context.Context, asset, fiat domain.Currency) (domain.DepositLimits, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limitsCalls++
	if f.limitsErr != nil {
		return domain.DepositLimits{}, f.limitsErr
	}
	return domain.DepositLimits{Currency: asset, Minimum: f.minimum}, nil
}

func (f *fakeBackend) Rate(ctx context.Context, from, to domain.Currency) (domain.ConversionRate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rateCalls++
	if f.rateErr != nil {
		return domain.ConversionRate{}, f.rateErr
	}
	return domain.NewConversionRate(from, to, f.price)
}

func (f *fakeBackend) SubmitTransfer(
	ctx context.Context,
	source, destination string,
	amount domain.Money,
	idempotencyKey string,
) (domain.TransferReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	f.lastIdemKey = idempotencyKey
	if f.submitErr != nil {
		return domain.TransferReceipt{}, f.submitErr
	}
	return domain.TransferReceipt{ID: f.receiptID}, nil
}

// newTestBackend models 1 BTC = 20000 USD, a 10.00 USD minimum
// deposit (50000 sats at that rate), and a 0.005 BTC balance.
func newTestBackend() *fakeBackend {
	return &fakeBackend{
		balance:   domain.NewMoney(domain.CurrencyBTC, 500000),
		minimum:   domain.NewMoney(domain.CurrencyUSD, 1000),
		price:     "20000",
		receiptID: "receipt-1",
	}
}

func newTestEngine(t *testing.T, backend *fakeBackend) *Engine {
	t.Helper()
	engine, err := NewEngine(Config{
		Source:          "trading",
		Destination:     "interest",
		Asset:           domain.CurrencyBTC,
		DisplayCurrency: domain.CurrencyUSD,
		Balances:        backend,
		Limits:          backend,
		Rates:           backend,
		Transfers:       backend,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	backend := newTestBackend()
	base := Config{
		Source:          "trading",
		Destination:     "interest",
		Asset:           domain.CurrencyBTC,
		DisplayCurrency: domain.CurrencyUSD,
		Balances:        backend,
		Limits:          backend,
		Rates:           backend,
		Transfers:       backend,
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty source", func(c *Config) { c.Source = "" }},
		{"empty destination", func(c *Config) { c.Destination = "" }},
		{"same account", func(c *Config) { c.Destination = "trading" }},
		{"fiat asset", func(c *Config) { c.Asset = domain.CurrencyUSD }},
		{"crypto display currency", func(c *Config) { c.DisplayCurrency = domain.CurrencyBTC }},
		{"nil provider", func(c *Config) { c.Rates = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if _, err := NewEngine(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewEngine: got %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestInitialize(t *testing.T) {
	backend := newTestBackend()
	engine := newTestEngine(t, backend)

	ptx, err := engine.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if ptx.Stage != domain.StageInitialized {
		t.Errorf("Stage = %s, want %s", ptx.Stage, domain.StageInitialized)
	}
	if !ptx.Amount.IsZero() {
		t.Errorf("Amount = %v, want zero", ptx.Amount)
	}
	if ptx.Available != domain.NewMoney(domain.CurrencyBTC, 500000) {
		t.Errorf("Available = %v, want 500000 sats", ptx.Available)
	}
	// 10.00 USD at 20000 USD/BTC is 50000 sats.
	if ptx.Limits.Minimum != domain.NewMoney(domain.CurrencyBTC, 50000) {
		t.Errorf("Limits.Minimum = %v, want 50000 sats", ptx.Limits.Minimum)
	}
	if ptx.ValidationState != domain.ValidationUninitialized {
		t.Errorf("ValidationState = %s, want %s", ptx.ValidationState, domain.ValidationUninitialized)
	}
	if backend.balanceCalls != 1 || backend.limitsCalls != 1 || backend.rateCalls != 1 {
		t.Errorf("calls = balance:%d limits:%d rate:%d, want 1 each",
			backend.balanceCalls, backend.limitsCalls, backend.rateCalls)
	}
}

func TestInitializeFailsWhenAnyReadFails(t *testing.T) {
	wantErr := errors.New("balance unavailable")
	backend := newTestBackend()
	backend.balanceErr = wantErr
	engine := newTestEngine(t, backend)

	if _, err := engine.Initialize(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("Initialize: got %v, want %v", err, wantErr)
	}
}

func TestUpdateAmountRefreshesBalanceAndResetsDerived(t *testing.T) {
	backend := newTestBackend()
	engine := newTestEngine(t, backend)

	ptx, err := engine.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	ptx.ValidationState = domain.ValidationCanExecute
	ptx.Confirmations = []domain.Confirmation{{Kind: domain.ConfirmationSource, Value: "trading"}}

	// The balance moved since initialization.
	backend.mu.Lock()
	backend.balance = domain.NewMoney(domain.CurrencyBTC, 400000)
	backend.mu.Unlock()

	if err := engine.UpdateAmount(context.Background(), ptx, domain.NewMoney(domain.CurrencyBTC, 250000)); err != nil {
		t.Fatalf("UpdateAmount: %v", err)
	}

	if ptx.Stage != domain.StageAmountUpdated {
		t.Errorf("Stage = %s, want %s", ptx.Stage, domain.StageAmountUpdated)
	}
	if ptx.Available != domain.NewMoney(domain.CurrencyBTC, 400000) {
		t.Errorf("Available = %v, want refreshed 400000 sats", ptx.Available)
	}
	if ptx.ValidationState != domain.ValidationUninitialized {
		t.Errorf("ValidationState = %s, want derived state cleared", ptx.ValidationState)
	}
	if ptx.Confirmations != nil {
		t.Errorf("Confirmations = %v, want cleared", ptx.Confirmations)
	}
}

func TestUpdateAmountRejectsWrongCurrency(t *testing.T) {
	backend := newTestBackend()
	engine := newTestEngine(t, backend)

	ptx, err := engine.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	err = engine.UpdateAmount(context.Background(), ptx, domain.NewMoney(domain.CurrencyETH, 100))
	if !errors.Is(err, domain.ErrCurrencyMismatch) {
		t.Errorf("UpdateAmount: got %v, want ErrCurrencyMismatch", err)
	}
}

func TestValidateStates(t *testing.T) {
	tests := []struct {
		name    string
		amount  int64 // sats; balance 500000, minimum 50000
		balance int64
		expect  domain.ValidationState
	}{
		{"well within range", 250000, 500000, domain.ValidationCanExecute},
		{"exactly the balance", 500000, 500000, domain.ValidationCanExecute},
		{"one over the balance", 500001, 500000, domain.ValidationInsufficientFunds},
		{"exactly the minimum", 50000, 500000, domain.ValidationCanExecute},
		{"one under the minimum", 49999, 500000, domain.ValidationBelowMinimumLimit},
		{"negative amount", -1, 500000, domain.ValidationInvalidAmount},
		{"funds check wins over minimum", 49999, 40000, domain.ValidationInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newTestBackend()
			engine := newTestEngine(t, backend)

			ptx, err := engine.Initialize(context.Background())
			if err != nil {
				t.Fatalf("Initialize: %v", err)
			}
			if err := engine.UpdateAmount(context.Background(), ptx, domain.NewMoney(domain.CurrencyBTC, tt.amount)); err != nil {
				t.Fatalf("UpdateAmount: %v", err)
			}

			backend.mu.Lock()
			backend.balance = domain.NewMoney(domain.CurrencyBTC, tt.balance)
			backend.mu.Unlock()

			if err := engine.Validate(context.Background(), ptx); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if ptx.ValidationState != tt.expect {
				t.Errorf("ValidationState = %s, want %s", ptx.ValidationState, tt.expect)
			}
			if ptx.Stage != domain.StageValidated {
				t.Errorf("Stage = %s, want %s", ptx.Stage, domain.StageValidated)
			}
		})
	}
}

func TestValidateRereadsBalance(t *testing.T) {
	backend := newTestBackend()
	engine := newTestEngine(t, backend)

	ptx, err := engine.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := engine.UpdateAmount(context.Background(), ptx, domain.NewMoney(domain.CurrencyBTC, 250000)); err != nil {
		t.Fatalf("UpdateAmount: %v", err)
	}

	// Funds drained between staging and validation.
	backend.mu.Lock()
	backend.balance = domain.NewMoney(domain.CurrencyBTC, 100000)
	backend.mu.Unlock()

	if err := engine.Validate(context.Background(), ptx); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ptx.ValidationState != domain.ValidationInsufficientFunds {
		t.Errorf("ValidationState = %s, want %s after balance drop",
			ptx.ValidationState, domain.ValidationInsufficientFunds)
	}
}

func TestBuildConfirmations(t *testing.T) {
	backend := newTestBackend()
	engine := newTestEngine(t, backend)
	ptx := stagedTransaction(t, engine, backend, 250000)

	ptx.TermsAccepted = true
	ptx.AgreementAccepted = true
	rateCallsBefore := backend.rateCalls

	if err := engine.BuildConfirmations(context.Background(), ptx); err != nil {
		t.Fatalf("BuildConfirmations: %v", err)
	}
	if backend.rateCalls != rateCallsBefore+1 {
		t.Errorf("rateCalls = %d, want exactly one fetch", backend.rateCalls-rateCallsBefore)
	}
	if ptx.Stage != domain.StageConfirmationsBuilt {
		t.Errorf("Stage = %s, want %s", ptx.Stage, domain.StageConfirmationsBuilt)
	}

	if len(ptx.Confirmations) != 3 {
		t.Fatalf("len(Confirmations) = %d, want 3", len(ptx.Confirmations))
	}
	if ptx.Confirmations[0].Kind != domain.ConfirmationSource || ptx.Confirmations[0].Value != "trading" {
		t.Errorf("Confirmations[0] = %+v, want source trading", ptx.Confirmations[0])
	}
	if ptx.Confirmations[1].Kind != domain.ConfirmationDestination || ptx.Confirmations[1].Value != "interest" {
		t.Errorf("Confirmations[1] = %+v, want destination interest", ptx.Confirmations[1])
	}

	total := ptx.Confirmations[2]
	if total.Kind != domain.ConfirmationTotal || total.Total == nil {
		t.Fatalf("Confirmations[2] = %+v, want total breakdown", total)
	}
	if total.Total.Amount != domain.NewMoney(domain.CurrencyBTC, 250000) {
		t.Errorf("Total.Amount = %v, want 250000 sats", total.Total.Amount)
	}
	// 0.0025 BTC at 20000 USD/BTC is 50.00 USD.
	if total.Total.AmountFiat != domain.NewMoney(domain.CurrencyUSD, 5000) {
		t.Errorf("Total.AmountFiat = %v, want 50.00 USD", total.Total.AmountFiat)
	}
}

func TestBuildConfirmationsUnacceptedTerms(t *testing.T) {
	tests := []struct {
		name      string
		terms     bool
		agreement bool
	}{
		{"neither accepted", false, false},
		{"terms only", true, false},
		{"agreement only", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newTestBackend()
			engine := newTestEngine(t, backend)
			ptx := stagedTransaction(t, engine, backend, 250000)

			ptx.TermsAccepted = tt.terms
			ptx.AgreementAccepted = tt.agreement
			rateCallsBefore := backend.rateCalls

			if err := engine.BuildConfirmations(context.Background(), ptx); err != nil {
				t.Fatalf("BuildConfirmations: %v", err)
			}
			if ptx.ValidationState != domain.ValidationOptionInvalid {
				t.Errorf("ValidationState = %s, want %s", ptx.ValidationState, domain.ValidationOptionInvalid)
			}
			if backend.rateCalls != rateCallsBefore {
				t.Error("rate fetched despite unaccepted terms")
			}
			if ptx.Stage == domain.StageConfirmationsBuilt {
				t.Error("stage advanced despite unaccepted terms")
			}
		})
	}
}

func TestExecute(t *testing.T) {
	backend := newTestBackend()
	engine := newTestEngine(t, backend)
	ptx := confirmedTransaction(t, engine, backend, 250000)

	result, err := engine.Execute(context.Background(), ptx, "idem-key-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.Amount != domain.NewMoney(domain.CurrencyBTC, 250000) {
		t.Errorf("result.Amount = %v, want 250000 sats", result.Amount)
	}
	if result.ReceiptID != "receipt-1" {
		t.Errorf("result.ReceiptID = %q, want %q", result.ReceiptID, "receipt-1")
	}
	if result.Confirmed {
		t.Error("result.Confirmed = true, want false at submission time")
	}
	if backend.lastIdemKey != "idem-key-1" {
		t.Errorf("idempotency key = %q, want %q", backend.lastIdemKey, "idem-key-1")
	}
	if ptx.Stage != domain.StageExecuted {
		t.Errorf("Stage = %s, want %s", ptx.Stage, domain.StageExecuted)
	}
}

func TestExecuteMapsSubmitErrorToUnknown(t *testing.T) {
	backend := newTestBackend()
	backend.submitErr = &domain.NetworkError{Op: "submit", StatusCode: 503}
	engine := newTestEngine(t, backend)
	ptx := confirmedTransaction(t, engine, backend, 250000)

	_, err := engine.Execute(context.Background(), ptx, "idem-key-1")
	vf, ok := domain.AsValidationFailure(err)
	if !ok {
		t.Fatalf("Execute returned %T, want *domain.ValidationFailure", err)
	}
	if vf.State != domain.ValidationUnknownError {
		t.Errorf("State = %s, want %s", vf.State, domain.ValidationUnknownError)
	}
	if ptx.Stage == domain.StageExecuted {
		t.Error("stage advanced despite failed submission")
	}
}

func TestExecuteRefusesWhenNotExecutable(t *testing.T) {
	backend := newTestBackend()
	engine := newTestEngine(t, backend)
	ptx := confirmedTransaction(t, engine, backend, 250000)
	ptx.ValidationState = domain.ValidationInsufficientFunds

	_, err := engine.Execute(context.Background(), ptx, "idem-key-1")
	vf, ok := domain.AsValidationFailure(err)
	if !ok {
		t.Fatalf("Execute returned %T, want *domain.ValidationFailure", err)
	}
	if vf.State != domain.ValidationInsufficientFunds {
		t.Errorf("State = %s, want %s", vf.State, domain.ValidationInsufficientFunds)
	}
	if backend.submitCalls != 0 {
		t.Errorf("submitCalls = %d, want 0", backend.submitCalls)
	}
}

func TestStageOrderEnforced(t *testing.T) {
	backend := newTestBackend()
	engine := newTestEngine(t, backend)

	uninitialized := &domain.PendingTransaction{Stage: domain.StageUninitialized}
	if err := engine.UpdateAmount(context.Background(), uninitialized, domain.NewMoney(domain.CurrencyBTC, 100000)); !errors.Is(err, ErrStageOrder) {
		t.Errorf("UpdateAmount on uninitialized: got %v, want ErrStageOrder", err)
	}

	ptx, err := engine.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := engine.Validate(context.Background(), ptx); !errors.Is(err, ErrStageOrder) {
		t.Errorf("Validate before amount update: got %v, want ErrStageOrder", err)
	}
	if err := engine.BuildConfirmations(context.Background(), ptx); !errors.Is(err, ErrStageOrder) {
		t.Errorf("BuildConfirmations before validation: got %v, want ErrStageOrder", err)
	}
	if _, err := engine.Execute(context.Background(), ptx, "k"); !errors.Is(err, ErrStageOrder) {
		t.Errorf("Execute before confirmations: got %v, want ErrStageOrder", err)
	}
}

// stagedTransaction runs initialize, update amount, and validate.
func stagedTransaction(t *testing.T, engine *Engine, backend *fakeBackend, amount int64) *domain.PendingTransaction {
	t.Helper()
	ptx, err := engine.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := engine.UpdateAmount(context.Background(), ptx, domain.NewMoney(domain.CurrencyBTC, amount)); err != nil {
		t.Fatalf("UpdateAmount: %v", err)
	}
	if err := engine.Validate(context.Background(), ptx); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return ptx
}

// confirmedTransaction runs the full pipeline up to confirmations with
// both acknowledgements accepted.
func confirmedTransaction(t *testing.T, engine *Engine, backend *fakeBackend, amount int64) *domain.PendingTransaction {
	t.Helper()
	ptx := stagedTransaction(t, engine, backend, amount)
	ptx.TermsAccepted = true
	ptx.AgreementAccepted = true
	if err := engine.BuildConfirmations(context.Background(), ptx); err != nil {
		t.Fatalf("BuildConfirmations: %v", err)
	}
	return ptx
}
