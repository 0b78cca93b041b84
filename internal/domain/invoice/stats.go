package invoice

import "github.com/shopspring/decimal"

// Statuses lists every known status in state machine order.
var Statuses = []Status{
	StatusCreated,
	StatusPaymentInitiated,
	StatusPaid,
	StatusFailed,
	StatusExpired,
	StatusCanceled,
}

// StatusTotals counts the invoices in one status and sums their amounts.
type StatusTotals struct {
	Count  int64
	Amount decimal.Decimal
}

// Stats summarises invoices by status. Every known status has an entry.
type Stats struct {
	ByStatus map[Status]StatusTotals
}

func NewStats() *Stats {
	s := &Stats{ByStatus: make(map[Status]StatusTotals, len(Statuses))}
	for _, st := range Statuses {
		s.ByStatus[st] = StatusTotals{Amount: decimal.Zero}
	}
	return s
}

// Add folds count invoices worth amount into status.
func (s *Stats) Add(status Status, count int64, amount decimal.Decimal) {
	t := s.ByStatus[status]
	t.Count += count
	t.Amount = t.Amount.Add(amount)
	s.ByStatus[status] = t
}

func (s *Stats) Total() StatusTotals {
	total := StatusTotals{Amount: decimal.Zero}
	for _, t := range s.ByStatus {
		total.Count += t.Count
		total.Amount = total.Amount.Add(t.Amount)
	}
	return total
}

// CollectionRate is the paid share of the invoiced amount, between 0 and 1.
func (s *Stats) CollectionRate() decimal.Decimal {
	total := s.Total().Amount
	if total.IsZero() {
		return decimal.Zero
	}
	return s.ByStatus[StatusPaid].Amount.DivRound(total, 4)
}

func (s *Stats) AverageAmount() decimal.Decimal {
	total := s.Total()
	if total.Count == 0 {
		return decimal.Zero
	}
	return total.Amount.DivRound(decimal.NewFromInt(total.Count), 2)
}
