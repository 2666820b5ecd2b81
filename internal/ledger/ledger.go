// Package ledger holds the debt and container reconciliation rules of the
// route book: how one delivery event moves a customer's unit debt, currency
// debt and containers in hand, and how the most recent event is taken back.
//
// Everything here is pure. Callers read the snapshot and prices, call Apply
// or Reverse, and persist what comes back.
package ledger

import "github.com/shopspring/decimal"

type Mode string

const (
	ModePaidToday      Mode = "paid_today"
	ModeDeferred       Mode = "deferred"
	ModeCollectOldDebt Mode = "collect_old_debt"
)

func (m Mode) Valid() bool {
	switch m {
	case ModePaidToday, ModeDeferred, ModeCollectOldDebt:
		return true
	}
	return false
}

// PriceDecimals matches the NUMERIC(14,2) price columns.
const PriceDecimals = 2

// Prices is the unit price for each bottle size.
type Prices struct {
	Price12 decimal.Decimal `json:"price_12l"`
	Price20 decimal.Decimal `json:"price_20l"`
}

func (p Prices) Validate() error {
	if p.Price12.IsNegative() || p.Price20.IsNegative() {
		return reject(ErrNegativePrice, "price_12l=%s price_20l=%s", p.Price12, p.Price20)
	}
	if !p.Price12.Equal(p.Price12.Round(PriceDecimals)) || !p.Price20.Equal(p.Price20.Round(PriceDecimals)) {
		return reject(ErrPricePrecision, "price_12l=%s price_20l=%s", p.Price12, p.Price20)
	}
	return nil
}

// Project converts unit counts to currency at the given prices.
func Project(units12, units20 int, prices Prices) decimal.Decimal {
	return prices.Price12.Mul(decimal.NewFromInt(int64(units12))).
		Add(prices.Price20.Mul(decimal.NewFromInt(int64(units20))))
}

// Snapshot is the numeric state of one customer. DebtCurrency is a cached
// projection of the unit debt and is recomputed on every change.
type Snapshot struct {
	DebtCurrency decimal.Decimal `json:"debt_currency"`
	DebtUnits12  int             `json:"debt_units_12"`
	DebtUnits20  int             `json:"debt_units_20"`
	StockUnits   int             `json:"stock_units"`
}

func (s Snapshot) Validate() error {
	if s.DebtCurrency.IsNegative() || s.DebtUnits12 < 0 || s.DebtUnits20 < 0 || s.StockUnits < 0 {
		return reject(ErrNegativeCount, "snapshot debt=%s debt_12=%d debt_20=%d stock=%d",
			s.DebtCurrency, s.DebtUnits12, s.DebtUnits20, s.StockUnits)
	}
	return nil
}

func (s Snapshot) HasDebt() bool {
	return s.DebtUnits12 > 0 || s.DebtUnits20 > 0 || s.DebtCurrency.IsPositive()
}

// Reprice recomputes the currency debt from the unit debt. Used after a
// price change; historical entries keep the amounts they were written with.
func (s Snapshot) Reprice(prices Prices) Snapshot {
	s.DebtCurrency = Project(s.DebtUnits12, s.DebtUnits20, prices)
	return s
}

// Intent is what the operator entered for one stop on the route. Under
// ModeCollectOldDebt the delivered counts mean "units of old debt paid now".
type Intent struct {
	Delivered12   int  `json:"delivered_12"`
	Delivered20   int  `json:"delivered_20"`
	ReturnedEmpty int  `json:"returned_empty"`
	Mode          Mode `json:"mode"`
}

func (i Intent) Validate() error {
	if i.Delivered12 < 0 || i.Delivered20 < 0 || i.ReturnedEmpty < 0 {
		return reject(ErrNegativeCount, "delivered_12=%d delivered_20=%d returned_empty=%d",
			i.Delivered12, i.Delivered20, i.ReturnedEmpty)
	}
	if !i.Mode.Valid() {
		return reject(ErrUnknownMode, "%q", i.Mode)
	}
	return nil
}

func (i Intent) empty() bool {
	return i.Delivered12 == 0 && i.Delivered20 == 0 && i.ReturnedEmpty == 0
}

// Entry is the ledger record written for one event.
//
// Mode is empty only on rows written before the mode tag existed; Reverse
// falls back to inferring it for those. Collected12/Collected20 are the
// units removed from debt by a collect-old-debt event.
type Entry struct {
	Delivered12     int             `json:"delivered_12"`
	Delivered20     int             `json:"delivered_20"`
	ReturnedEmpty   int             `json:"returned_empty"`
	Mode            Mode            `json:"mode,omitempty"`
	Paid            bool            `json:"paid"`
	AmountDeferred  decimal.Decimal `json:"amount_deferred"`
	AmountCollected decimal.Decimal `json:"amount_collected"`
	Collected12     int             `json:"collected_12"`
	Collected20     int             `json:"collected_20"`
}

func (e Entry) Validate() error {
	if e.Delivered12 < 0 || e.Delivered20 < 0 || e.ReturnedEmpty < 0 || e.Collected12 < 0 || e.Collected20 < 0 {
		return reject(ErrNegativeCount, "entry has negative counts")
	}
	if e.Mode != "" && !e.Mode.Valid() {
		return reject(ErrUnknownMode, "%q", e.Mode)
	}
	return nil
}

func (e Entry) delivered() int {
	return e.Delivered12 + e.Delivered20
}
