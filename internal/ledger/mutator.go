package ledger

// Mutator applies and reverses ledger entries. In lenient mode every
// subtraction clamps at zero, matching the stored data written so far;
// Strict rejects anything that would underflow instead.
type Mutator struct {
	Strict bool
}

func NewMutator(strict bool) Mutator {
	return Mutator{Strict: strict}
}

// Apply computes the snapshot after the intent and the entry to append.
// Prices are the ones read for this call; nothing is cached between calls.
func (m Mutator) Apply(snap Snapshot, intent Intent, prices Prices) (Snapshot, Entry, error) {
	if err := prices.Validate(); err != nil {
		return Snapshot{}, Entry{}, err
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, Entry{}, err
	}
	if err := intent.Validate(); err != nil {
		return Snapshot{}, Entry{}, err
	}
	if intent.empty() && !(intent.Mode == ModeCollectOldDebt && snap.HasDebt()) {
		return Snapshot{}, Entry{}, reject(ErrNothingToRecord, "select delivered bottles, returned empties or collect outstanding debt")
	}

	next := snap
	entry := Entry{
		Delivered12:   intent.Delivered12,
		Delivered20:   intent.Delivered20,
		ReturnedEmpty: intent.ReturnedEmpty,
		Mode:          intent.Mode,
		Paid:          intent.Mode != ModeDeferred,
	}

	// Containers available to take empties back from: what the customer
	// held plus anything handed over in this same event.
	held := snap.StockUnits

	switch intent.Mode {
	case ModePaidToday:
		entry.AmountCollected = Project(intent.Delivered12, intent.Delivered20, prices)
		held += intent.Delivered12 + intent.Delivered20
	case ModeDeferred:
		next.DebtUnits12 += intent.Delivered12
		next.DebtUnits20 += intent.Delivered20
		entry.AmountDeferred = Project(intent.Delivered12, intent.Delivered20, prices)
		held += intent.Delivered12 + intent.Delivered20
	case ModeCollectOldDebt:
		if intent.Delivered12 > snap.DebtUnits12 || intent.Delivered20 > snap.DebtUnits20 {
			return Snapshot{}, Entry{}, reject(ErrOverCollection, "owed 12L=%d 20L=%d, collecting 12L=%d 20L=%d",
				snap.DebtUnits12, snap.DebtUnits20, intent.Delivered12, intent.Delivered20)
		}
		if intent.Delivered12 == 0 && intent.Delivered20 == 0 {
			entry.Collected12, entry.Collected20 = snap.DebtUnits12, snap.DebtUnits20
		} else {
			entry.Collected12, entry.Collected20 = intent.Delivered12, intent.Delivered20
		}
		next.DebtUnits12 = snap.DebtUnits12 - entry.Collected12
		next.DebtUnits20 = snap.DebtUnits20 - entry.Collected20
		entry.AmountCollected = Project(entry.Collected12, entry.Collected20, prices)
	}

	stock, err := m.subtract(held, intent.ReturnedEmpty, ErrReturnExceedsStock, "returned_empty")
	if err != nil {
		return Snapshot{}, Entry{}, err
	}
	next.StockUnits = stock
	// The entry keeps what was actually taken back so Reverse restores
	// the prior stock even when the return was clamped.
	entry.ReturnedEmpty = held - stock
	next.DebtCurrency = Project(next.DebtUnits12, next.DebtUnits20, prices)

	return next, entry, nil
}

// Reverse computes the snapshot as if entry had never been applied. Only
// the customer's most recent entry should be passed in; stock is re-derived
// rather than restored, so it is exact only when nothing else touched it.
// Currency debt is recomputed at the current prices.
func (m Mutator) Reverse(entry Entry, snap Snapshot, prices Prices) (Snapshot, error) {
	if err := prices.Validate(); err != nil {
		return Snapshot{}, err
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}
	if err := entry.Validate(); err != nil {
		return Snapshot{}, err
	}

	next := snap
	var err error

	switch entry.Mode {
	case ModeDeferred:
		if next, err = m.removeDebt(next, entry.Delivered12, entry.Delivered20); err != nil {
			return Snapshot{}, err
		}
		if next.StockUnits, err = m.subtract(snap.StockUnits+entry.ReturnedEmpty, entry.delivered(), ErrUnderflow, "stock"); err != nil {
			return Snapshot{}, err
		}
	case ModePaidToday:
		if next.StockUnits, err = m.subtract(snap.StockUnits+entry.ReturnedEmpty, entry.delivered(), ErrUnderflow, "stock"); err != nil {
			return Snapshot{}, err
		}
	case ModeCollectOldDebt:
		next.DebtUnits12 += entry.Collected12
		next.DebtUnits20 += entry.Collected20
		next.StockUnits = snap.StockUnits + entry.ReturnedEmpty
	case "":
		if next, err = m.reverseUntagged(entry, snap); err != nil {
			return Snapshot{}, err
		}
	}

	next.DebtCurrency = Project(next.DebtUnits12, next.DebtUnits20, prices)
	return next, nil
}

// reverseUntagged handles rows written without a mode. A paid row with
// delivered units cannot be told apart from a same-day sale, so it is
// treated as an old-debt collection and the units go back onto the debt.
func (m Mutator) reverseUntagged(entry Entry, snap Snapshot) (Snapshot, error) {
	next := snap
	var err error

	switch {
	case !entry.Paid:
		if next, err = m.removeDebt(next, entry.Delivered12, entry.Delivered20); err != nil {
			return Snapshot{}, err
		}
	case entry.AmountCollected.IsPositive() && entry.delivered() > 0:
		next.DebtUnits12 += entry.Delivered12
		next.DebtUnits20 += entry.Delivered20
	}

	next.StockUnits, err = m.subtract(snap.StockUnits+entry.ReturnedEmpty, entry.delivered(), ErrUnderflow, "stock")
	if err != nil {
		return Snapshot{}, err
	}
	return next, nil
}

func (m Mutator) removeDebt(snap Snapshot, units12, units20 int) (Snapshot, error) {
	var err error
	if snap.DebtUnits12, err = m.subtract(snap.DebtUnits12, units12, ErrUnderflow, "debt_units_12"); err != nil {
		return Snapshot{}, err
	}
	if snap.DebtUnits20, err = m.subtract(snap.DebtUnits20, units20, ErrUnderflow, "debt_units_20"); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (m Mutator) subtract(from, amount int, reason error, field string) (int, error) {
	if amount <= from {
		return from - amount, nil
	}
	if m.Strict {
		return 0, reject(reason, "%s: %d exceeds %d", field, amount, from)
	}
	return 0, nil
}
