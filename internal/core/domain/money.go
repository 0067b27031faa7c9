package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Currency is an ISO-style asset or fiat code.
type Currency string

const (
	CurrencyBTC  Currency = "BTC"
	CurrencyETH  Currency = "ETH"
	CurrencyUSDC Currency = "USDC"
	CurrencyUSD  Currency = "USD"
	CurrencyEUR  Currency = "EUR"
	CurrencyGBP  Currency = "GBP"
)

var currencyPrecision = map[Currency]int{
	CurrencyBTC:  8,
	CurrencyETH:  18,
	CurrencyUSDC: 6,
	CurrencyUSD:  2,
	CurrencyEUR:  2,
	CurrencyGBP:  2,
}

var fiatCurrencies = map[Currency]bool{
	CurrencyUSD: true,
	CurrencyEUR: true,
	CurrencyGBP: true,
}

// Precision returns the number of minor-unit decimal places for the currency.
func (c Currency) Precision() int {
	if p, ok := currencyPrecision[c]; ok {
		return p
	}
	return 8
}

// IsFiat reports whether the currency is a fiat display currency.
func (c Currency) IsFiat() bool {
	return fiatCurrencies[c]
}

// ErrCurrencyMismatch is returned when arithmetic mixes currencies.
var ErrCurrencyMismatch = errors.New("currency mismatch")

// Money is an amount in minor units of a single currency.
type Money struct {
	Currency Currency `json:"currency"`
	Units    int64    `json:"units"`
}

// NewMoney creates an amount in minor units.
func NewMoney(c Currency, units int64) Money {
	return Money{Currency: c, Units: units}
}

// Zero returns a zero amount in the given currency.
func Zero(c Currency) Money {
	return Money{Currency: c}
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Units == 0
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool {
	return m.Units < 0
}

// Add returns m + o. Currencies must match.
func (m Money) Add(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("add %s to %s: %w", o.Currency, m.Currency, ErrCurrencyMismatch)
	}
	return Money{Currency: m.Currency, Units: m.Units + o.Units}, nil
}

// Sub returns m - o. Currencies must match.
func (m Money) Sub(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("subtract %s from %s: %w", o.Currency, m.Currency, ErrCurrencyMismatch)
	}
	return Money{Currency: m.Currency, Units: m.Units - o.Units}, nil
}

// Cmp compares m against o: -1 if less, 0 if equal, 1 if greater.
func (m Money) Cmp(o Money) (int, error) {
	if m.Currency != o.Currency {
		return 0, fmt.Errorf("compare %s with %s: %w", m.Currency, o.Currency, ErrCurrencyMismatch)
	}
	switch {
	case m.Units < o.Units:
		return -1, nil
	case m.Units > o.Units:
		return 1, nil
	default:
		return 0, nil
	}
}

// String renders the amount in major units, e.g. "0.00150000 BTC".
func (m Money) String() string {
	p := m.Currency.Precision()
	if p == 0 {
		return fmt.Sprintf("%d %s", m.Units, m.Currency)
	}
	units := m.Units
	sign := ""
	if units < 0 {
		sign = "-"
		units = -units
	}
	div := int64(1)
	for i := 0; i < p; i++ {
		div *= 10
	}
	frac := strconv.FormatInt(units%div, 10)
	frac = strings.Repeat("0", p-len(frac)) + frac
	return fmt.Sprintf("%s%d.%s %s", sign, units/div, frac, m.Currency)
}
