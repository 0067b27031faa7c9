package domain

import (
	"errors"
	"testing"
)

func TestMoneyCmp(t *testing.T) {
	tests := []struct {
		name   string
		a, b   Money
		expect int
	}{
		{"equal", NewMoney(CurrencyBTC, 100), NewMoney(CurrencyBTC, 100), 0},
		{"less", NewMoney(CurrencyBTC, 99), NewMoney(CurrencyBTC, 100), -1},
		{"greater", NewMoney(CurrencyBTC, 101), NewMoney(CurrencyBTC, 100), 1},
		{"zero vs zero", Zero(CurrencyUSD), Zero(CurrencyUSD), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.a.Cmp(tt.b)
			if err != nil {
				t.Fatalf("Cmp returned error: %v", err)
			}
			if got != tt.expect {
				t.Errorf("Cmp(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.expect)
			}
		})
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	a := NewMoney(CurrencyBTC, 100)
	b := NewMoney(CurrencyUSD, 100)

	if _, err := a.Cmp(b); !errors.Is(err, ErrCurrencyMismatch) {
		t.Errorf("Cmp across currencies: got %v, want ErrCurrencyMismatch", err)
	}
	if _, err := a.Add(b); !errors.Is(err, ErrCurrencyMismatch) {
		t.Errorf("Add across currencies: got %v, want ErrCurrencyMismatch", err)
	}
	if _, err := a.Sub(b); !errors.Is(err, ErrCurrencyMismatch) {
		t.Errorf("Sub across currencies: got %v, want ErrCurrencyMismatch", err)
	}
}

func TestMoneyString(t *testing.T) {
	tests := []struct {
		m      Money
		expect string
	}{
		{NewMoney(CurrencyBTC, 150000), "0.00150000 BTC"},
		{NewMoney(CurrencyUSD, 1050), "10.50 USD"},
		{NewMoney(CurrencyUSD, -1050), "-10.50 USD"},
		{Zero(CurrencyUSD), "0.00 USD"},
	}

	for _, tt := range tests {
		if got := tt.m.String(); got != tt.expect {
			t.Errorf("String() = %q, want %q", got, tt.expect)
		}
	}
}

func TestConversionRateConvert(t *testing.T) {
	// 1 BTC = 20000 USD
	rate, err := NewConversionRate(CurrencyBTC, CurrencyUSD, "20000")
	if err != nil {
		t.Fatalf("NewConversionRate: %v", err)
	}

	// 0.005 BTC -> 100.00 USD
	got, err := rate.Convert(NewMoney(CurrencyBTC, 500000))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	want := NewMoney(CurrencyUSD, 10000)
	if got != want {
		t.Errorf("Convert = %v, want %v", got, want)
	}
}

func TestConversionRateInverse(t *testing.T) {
	rate, err := NewConversionRate(CurrencyBTC, CurrencyUSD, "20000")
	if err != nil {
		t.Fatalf("NewConversionRate: %v", err)
	}

	// 10.00 USD -> 0.0005 BTC via inverse
	got, err := rate.Inverse().Convert(NewMoney(CurrencyUSD, 1000))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	want := NewMoney(CurrencyBTC, 50000)
	if got != want {
		t.Errorf("Inverse().Convert = %v, want %v", got, want)
	}
}

func TestConversionRateRejectsBadPrice(t *testing.T) {
	for _, price := range []string{"", "abc", "0", "-5"} {
		if _, err := NewConversionRate(CurrencyBTC, CurrencyUSD, price); err == nil {
			t.Errorf("NewConversionRate(%q) succeeded, want error", price)
		}
	}
}

func TestConversionRateWrongCurrency(t *testing.T) {
	rate, _ := NewConversionRate(CurrencyBTC, CurrencyUSD, "20000")
	if _, err := rate.Convert(NewMoney(CurrencyETH, 100)); !errors.Is(err, ErrCurrencyMismatch) {
		t.Errorf("Convert with wrong currency: got %v, want ErrCurrencyMismatch", err)
	}
}

func TestResetDerived(t *testing.T) {
	ptx := &PendingTransaction{
		ValidationState: ValidationCanExecute,
		Confirmations: []Confirmation{
			{Kind: ConfirmationSource, Value: "trading"},
		},
	}
	ptx.ResetDerived()

	if ptx.ValidationState != ValidationUninitialized {
		t.Errorf("ValidationState = %s, want %s", ptx.ValidationState, ValidationUninitialized)
	}
	if ptx.Confirmations != nil {
		t.Errorf("Confirmations = %v, want nil", ptx.Confirmations)
	}
}
