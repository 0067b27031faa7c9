// Package staging drives custodial transfers through an ordered
// pipeline: initialize, update amount, validate, build confirmations,
// execute. Each stage re-reads the remote state it depends on; balances
// and limits are treated as time-varying external truth, never engine
// state.
package staging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tellerhq/teller/internal/core/domain"
	"github.com/tellerhq/teller/internal/metrics"
)

// BalanceProvider reads the current available balance of an account.
type BalanceProvider interface {
	Balance(ctx context.Context, account string) (domain.Money, error)
}

// LimitsProvider reads deposit limits for an asset, denominated in a
// fiat display currency.
type LimitsProvider interface {
	DepositLimits(ctx context.Context, asset, fiat domain.Currency) (domain.DepositLimits, error)
}

// ConversionProvider reads the conversion rate between two currencies.
type ConversionProvider interface {
	Rate(ctx context.Context, from, to domain.Currency) (domain.ConversionRate, error)
}

// TransferSubmitter submits a custodial transfer.
type TransferSubmitter interface {
	SubmitTransfer(
		ctx context.Context,
		source, destination string,
		amount domain.Money,
		idempotencyKey string,
	) (domain.TransferReceipt, error)
}

var (
	// ErrStageOrder is returned when a stage is invoked out of sequence.
	ErrStageOrder = errors.New("stage out of order")

	// ErrInvalidConfig is returned when an engine is constructed with
	// inconsistent inputs.
	ErrInvalidConfig = errors.New("invalid engine config")
)

// Config describes one source/destination pair for the engine.
type Config struct {
	Source          string
	Destination     string
	Asset           domain.Currency
	DisplayCurrency domain.Currency

	Balances  BalanceProvider
	Limits    LimitsProvider
	Rates     ConversionProvider
	Transfers TransferSubmitter
}

// Engine stages a deposit from a trading account into an interest
// account. One engine instance drives one logical transfer; stages run
// in fixed order and never backward.
type Engine struct {
	cfg Config
}

// NewEngine validates the configuration and builds an engine. Invalid
// input is a construction error, not a runtime panic.
func NewEngine(cfg Config) (*Engine, error) {
	switch {
	case cfg.Source == "":
		return nil, fmt.Errorf("%w: source account required", ErrInvalidConfig)
	case cfg.Destination == "":
		return nil, fmt.Errorf("%w: destination account required", ErrInvalidConfig)
	case cfg.Source == cfg.Destination:
		return nil, fmt.Errorf("%w: source and destination must differ", ErrInvalidConfig)
	case cfg.Asset == "" || cfg.Asset.IsFiat():
		return nil, fmt.Errorf("%w: asset must be a crypto currency, got %q", ErrInvalidConfig, cfg.Asset)
	case !cfg.DisplayCurrency.IsFiat():
		return nil, fmt.Errorf("%w: display currency must be fiat, got %q", ErrInvalidConfig, cfg.DisplayCurrency)
	case cfg.Balances == nil || cfg.Limits == nil || cfg.Rates == nil || cfg.Transfers == nil:
		return nil, fmt.Errorf("%w: all providers are required", ErrInvalidConfig)
	}
	return &Engine{cfg: cfg}, nil
}

// Initialize fetches the minimum deposit limit and the current balance
// concurrently and seeds a zero-amount pending transaction. Either read
// failing fails the stage; there is no partial success.
func (e *Engine) Initialize(ctx context.Context) (*domain.PendingTransaction, error) {
	defer observeStage(domain.StageInitialized)()

	var minDeposit domain.Money
	var balance domain.Money

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := e.minimumDeposit(gctx)
		if err != nil {
			return err
		}
		minDeposit = m
		return nil
	})
	g.Go(func() error {
		b, err := e.cfg.Balances.Balance(gctx, e.cfg.Source)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &domain.PendingTransaction{
		Stage:               domain.StageInitialized,
		Amount:              domain.Zero(e.cfg.Asset),
		Available:           balance,
		FeeAmount:           domain.Zero(e.cfg.Asset),
		FeeForFullAvailable: domain.Zero(e.cfg.Asset),
		FeeSelection: domain.FeeSelection{
			Selected:  domain.FeeLevelNone,
			Available: []domain.FeeLevel{domain.FeeLevelNone},
		},
		DisplayCurrency: e.cfg.DisplayCurrency,
		Limits: domain.DepositLimits{
			Currency: e.cfg.Asset,
			Minimum:  minDeposit,
		},
		ValidationState: domain.ValidationUninitialized,
	}, nil
}

// UpdateAmount sets a new amount and re-reads the balance; limits are
// not re-read here. Validation results and confirmations derived from
// the previous amount are discarded.
func (e *Engine) UpdateAmount(
	ctx context.Context,
	ptx *domain.PendingTransaction,
	amount domain.Money,
) error {
	defer observeStage(domain.StageAmountUpdated)()

	if ptx.Stage == domain.StageUninitialized || ptx.Stage == domain.StageExecuted {
		return fmt.Errorf("update amount in stage %s: %w", ptx.Stage, ErrStageOrder)
	}
	if amount.Currency != e.cfg.Asset {
		return fmt.Errorf("amount in %s for %s deposit: %w",
			amount.Currency, e.cfg.Asset, domain.ErrCurrencyMismatch)
	}

	balance, err := e.cfg.Balances.Balance(ctx, e.cfg.Source)
	if err != nil {
		return err
	}

	ptx.Amount = amount
	ptx.Available = balance
	ptx.Stage = domain.StageAmountUpdated
	ptx.ResetDerived()
	return nil
}

// Validate re-reads the balance and runs the ordered checks: sufficient
// funds first, then the minimum limit. The first failing check wins.
// Domain outcomes land in ValidationState; only remote failures return
// an error.
func (e *Engine) Validate(ctx context.Context, ptx *domain.PendingTransaction) error {
	defer observeStage(domain.StageValidated)()

	switch ptx.Stage {
	case domain.StageAmountUpdated, domain.StageValidated, domain.StageConfirmationsBuilt:
	default:
		return fmt.Errorf("validate in stage %s: %w", ptx.Stage, ErrStageOrder)
	}

	balance, err := e.cfg.Balances.Balance(ctx, e.cfg.Source)
	if err != nil {
		return err
	}
	ptx.Available = balance

	state := e.checkAmount(ptx)
	ptx.ValidationState = state
	ptx.Stage = domain.StageValidated
	metrics.ValidationsTotal.WithLabelValues(string(state)).Inc()
	return nil
}

func (e *Engine) checkAmount(ptx *domain.PendingTransaction) domain.ValidationState {
	if ptx.Amount.IsNegative() {
		return domain.ValidationInvalidAmount
	}
	overBalance, err := ptx.Amount.Cmp(ptx.Available)
	if err != nil {
		return domain.ValidationInvalidAmount
	}
	if overBalance > 0 {
		return domain.ValidationInsufficientFunds
	}
	belowMin, err := ptx.Amount.Cmp(ptx.Limits.Minimum)
	if err != nil {
		return domain.ValidationInvalidAmount
	}
	if belowMin < 0 {
		return domain.ValidationBelowMinimumLimit
	}
	return domain.ValidationCanExecute
}

// BuildConfirmations assembles the pre-execute summary. Both the terms
// and the transfer agreement must be accepted first; if not, the state
// becomes OptionInvalid and no remote call is made.
func (e *Engine) BuildConfirmations(ctx context.Context, ptx *domain.PendingTransaction) error {
	defer observeStage(domain.StageConfirmationsBuilt)()

	switch ptx.Stage {
	case domain.StageValidated, domain.StageConfirmationsBuilt:
	default:
		return fmt.Errorf("build confirmations in stage %s: %w", ptx.Stage, ErrStageOrder)
	}

	if !ptx.AgreementAccepted || !ptx.TermsAccepted {
		ptx.ValidationState = domain.ValidationOptionInvalid
		metrics.ValidationsTotal.WithLabelValues(string(domain.ValidationOptionInvalid)).Inc()
		return nil
	}

	rate, err := e.cfg.Rates.Rate(ctx, e.cfg.Asset, e.cfg.DisplayCurrency)
	if err != nil {
		return err
	}
	fiatAmount, err := rate.Convert(ptx.Amount)
	if err != nil {
		return fmt.Errorf("convert amount to %s: %w", e.cfg.DisplayCurrency, err)
	}
	fiatFee, err := rate.Convert(ptx.FeeAmount)
	if err != nil {
		return fmt.Errorf("convert fee to %s: %w", e.cfg.DisplayCurrency, err)
	}

	ptx.Confirmations = []domain.Confirmation{
		{Kind: domain.ConfirmationSource, Value: e.cfg.Source},
		{Kind: domain.ConfirmationDestination, Value: e.cfg.Destination},
		{
			Kind: domain.ConfirmationTotal,
			Total: &domain.TotalBreakdown{
				Amount:     ptx.Amount,
				AmountFiat: fiatAmount,
				Fee:        ptx.FeeAmount,
				FeeFiat:    fiatFee,
			},
		},
	}
	ptx.Stage = domain.StageConfirmationsBuilt
	return nil
}

// Execute submits the transfer. Any remote failure is reported as a
// generic unknown-error validation failure; the original error detail
// is dropped on purpose. On success the result is tagged unconfirmed:
// custodial transfers have no on-chain hash at submission time.
func (e *Engine) Execute(
	ctx context.Context,
	ptx *domain.PendingTransaction,
	idempotencyKey string,
) (*domain.TransactionResult, error) {
	defer observeStage(domain.StageExecuted)()

	if ptx.Stage != domain.StageConfirmationsBuilt {
		return nil, fmt.Errorf("execute in stage %s: %w", ptx.Stage, ErrStageOrder)
	}
	if !ptx.CanExecute() {
		return nil, &domain.ValidationFailure{State: ptx.ValidationState}
	}

	receipt, err := e.cfg.Transfers.SubmitTransfer(
		ctx,
		e.cfg.Source,
		e.cfg.Destination,
		ptx.Amount,
		idempotencyKey,
	)
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("failed").Inc()
		return nil, &domain.ValidationFailure{State: domain.ValidationUnknownError}
	}

	ptx.Stage = domain.StageExecuted
	metrics.TransfersTotal.WithLabelValues("submitted").Inc()
	return &domain.TransactionResult{
		Amount:    ptx.Amount,
		ReceiptID: receipt.ID,
		Confirmed: false,
	}, nil
}

// minimumDeposit converts the fiat minimum deposit limit into the
// source asset using the inverse of the current conversion rate.
func (e *Engine) minimumDeposit(ctx context.Context) (domain.Money, error) {
	limits, err := e.cfg.Limits.DepositLimits(ctx, e.cfg.Asset, e.cfg.DisplayCurrency)
	if err != nil {
		return domain.Money{}, err
	}
	rate, err := e.cfg.Rates.Rate(ctx, e.cfg.Asset, e.cfg.DisplayCurrency)
	if err != nil {
		return domain.Money{}, err
	}
	minCrypto, err := rate.Inverse().Convert(limits.Minimum)
	if err != nil {
		return domain.Money{}, fmt.Errorf("convert minimum deposit to %s: %w", e.cfg.Asset, err)
	}
	return minCrypto, nil
}

func observeStage(stage domain.Stage) func() {
	start := time.Now()
	return func() {
		metrics.StageLatency.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}
}
