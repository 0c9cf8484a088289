package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAssetAmount bounds the absolute value of any Asset amount. It leaves two
// bits of headroom below int64 so a single addition never wraps.
const MaxAssetAmount int64 = 1<<62 - 1

// MaxPrecision is the largest supported number of decimal places.
const MaxPrecision = 18

// Symbol identifies a token by its upper-case code and decimal precision.
type Symbol struct {
	Code      string
	Precision uint8
}

// NewSymbol validates code and precision and returns the Symbol.
func NewSymbol(code string, precision uint8) (Symbol, error) {
	s := Symbol{Code: code, Precision: precision}
	if !s.IsValid() {
		return Symbol{}, fmt.Errorf("%w: symbol %q with precision %d", ErrInput, code, precision)
	}
	return s, nil
}

// ParseSymbol parses the "precision,CODE" form, e.g. "4,EOS".
func ParseSymbol(s string) (Symbol, error) {
	prec, code, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return Symbol{}, fmt.Errorf("%w: symbol %q: expected precision,CODE", ErrInput, s)
	}
	p, err := strconv.ParseUint(prec, 10, 8)
	if err != nil {
		return Symbol{}, fmt.Errorf("%w: symbol %q: %v", ErrInput, s, err)
	}
	return NewSymbol(code, uint8(p))
}

// IsValid reports whether the code is 1-7 upper-case letters and the
// precision is within range.
func (s Symbol) IsValid() bool {
	if len(s.Code) == 0 || len(s.Code) > 7 || s.Precision > MaxPrecision {
		return false
	}
	for _, r := range s.Code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func (s Symbol) String() string {
	return strconv.Itoa(int(s.Precision)) + "," + s.Code
}

// MarshalText implements encoding.TextMarshaler. The zero Symbol encodes as
// an empty string.
func (s Symbol) MarshalText() ([]byte, error) {
	if s == (Symbol{}) {
		return []byte{}, nil
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Symbol) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = Symbol{}
		return nil
	}
	parsed, err := ParseSymbol(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ExtendedSymbol is a Symbol together with the account of the contract that
// issues it. Two tokens with the same code from different contracts are
// different assets.
type ExtendedSymbol struct {
	Symbol   Symbol `json:"symbol"`
	Contract string `json:"contract"`
}

func (s ExtendedSymbol) String() string {
	return s.Symbol.String() + "@" + s.Contract
}

// Asset is a fixed-point token amount. Amount is expressed in the smallest
// unit of Symbol, so 1.0000 EOS is {10000, 4,EOS}.
type Asset struct {
	Amount int64
	Symbol Symbol
}

// NewAsset returns an Asset, rejecting amounts outside MaxAssetAmount.
func NewAsset(amount int64, sym Symbol) (Asset, error) {
	if amount > MaxAssetAmount || amount < -MaxAssetAmount {
		return Asset{}, fmt.Errorf("%w: %d", ErrAssetOverflow, amount)
	}
	return Asset{Amount: amount, Symbol: sym}, nil
}

// ParseAsset parses the text form "100.0000 EOS". The precision is taken
// from the number of fractional digits, so the amount must be written as
// plain digits with an optional sign and fraction. Exponents are rejected.
func ParseAsset(s string) (Asset, error) {
	num, code, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok {
		return Asset{}, fmt.Errorf("%w: asset %q: expected \"AMOUNT CODE\"", ErrInput, s)
	}
	if !isPlainDecimal(num) {
		return Asset{}, fmt.Errorf("%w: asset %q: amount must be [-]digits[.digits]", ErrInput, s)
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: asset %q: %v", ErrInput, s, err)
	}
	prec := 0
	if i := strings.IndexByte(num, '.'); i >= 0 {
		prec = len(num) - i - 1
	}
	if prec > MaxPrecision {
		return Asset{}, fmt.Errorf("%w: asset %q: precision %d", ErrInput, s, prec)
	}
	sym, err := NewSymbol(strings.TrimSpace(code), uint8(prec))
	if err != nil {
		return Asset{}, err
	}
	raw := d.Shift(int32(prec))
	if raw.Abs().GreaterThan(decimal.NewFromInt(MaxAssetAmount)) {
		return Asset{}, fmt.Errorf("%w: asset %q", ErrAssetOverflow, s)
	}
	return Asset{Amount: raw.IntPart(), Symbol: sym}, nil
}

// isPlainDecimal matches [-]digits[.digits].
func isPlainDecimal(num string) bool {
	num = strings.TrimPrefix(num, "-")
	whole, frac, hasFrac := strings.Cut(num, ".")
	if whole == "" || (hasFrac && frac == "") {
		return false
	}
	for _, part := range []string{whole, frac} {
		for i := 0; i < len(part); i++ {
			if part[i] < '0' || part[i] > '9' {
				return false
			}
		}
	}
	return true
}

// Decimal returns the amount as a decimal number of whole units.
func (a Asset) Decimal() decimal.Decimal {
	return decimal.New(a.Amount, -int32(a.Symbol.Precision))
}

func (a Asset) String() string {
	return a.Decimal().StringFixed(int32(a.Symbol.Precision)) + " " + a.Symbol.Code
}

// MarshalText implements encoding.TextMarshaler. The zero Asset encodes as
// an empty string.
func (a Asset) MarshalText() ([]byte, error) {
	if a == (Asset{}) {
		return []byte{}, nil
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Asset) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Asset{}
		return nil
	}
	parsed, err := ParseAsset(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Asset) IsPositive() bool { return a.Amount > 0 }

// Add returns a+b. Both operands must carry the same Symbol.
func (a Asset) Add(b Asset) (Asset, error) {
	if a.Symbol != b.Symbol {
		return Asset{}, fmt.Errorf("%w: %s + %s", ErrSymbolMismatch, a.Symbol, b.Symbol)
	}
	return NewAsset(a.Amount+b.Amount, a.Symbol)
}

// Sub returns a-b. Both operands must carry the same Symbol.
func (a Asset) Sub(b Asset) (Asset, error) {
	if a.Symbol != b.Symbol {
		return Asset{}, fmt.Errorf("%w: %s - %s", ErrSymbolMismatch, a.Symbol, b.Symbol)
	}
	return NewAsset(a.Amount-b.Amount, a.Symbol)
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Asset) Cmp(b Asset) (int, error) {
	if a.Symbol != b.Symbol {
		return 0, fmt.Errorf("%w: %s vs %s", ErrSymbolMismatch, a.Symbol, b.Symbol)
	}
	switch {
	case a.Amount < b.Amount:
		return -1, nil
	case a.Amount > b.Amount:
		return 1, nil
	}
	return 0, nil
}

// ExtendedAsset is an Asset together with its issuing contract.
type ExtendedAsset struct {
	Quantity Asset  `json:"quantity"`
	Contract string `json:"contract"`
}

// ExtendedSymbol returns the token identity of e.
func (e ExtendedAsset) ExtendedSymbol() ExtendedSymbol {
	return ExtendedSymbol{Symbol: e.Quantity.Symbol, Contract: e.Contract}
}

func (e ExtendedAsset) String() string {
	return e.Quantity.String() + "@" + e.Contract
}
