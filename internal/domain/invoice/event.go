package invoice

import (
	"strings"
	"time"
)

// ReportedStatus is the payment status claimed by the gateway.
type ReportedStatus string

const (
	ReportedPending  ReportedStatus = "pending"
	ReportedPaid     ReportedStatus = "paid"
	ReportedFailed   ReportedStatus = "failed"
	ReportedExpired  ReportedStatus = "expired"
	ReportedCanceled ReportedStatus = "canceled"
)

// ParseReportedStatus normalises a gateway status string. The British
// spelling "cancelled" is accepted as canceled, and a checkout still
// "processing" counts as pending.
func ParseReportedStatus(s string) (ReportedStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "processing":
		return ReportedPending, true
	case "paid":
		return ReportedPaid, true
	case "failed":
		return ReportedFailed, true
	case "expired":
		return ReportedExpired, true
	case "canceled", "cancelled":
		return ReportedCanceled, true
	}
	return "", false
}

// PaymentEvent is a verified status report for one checkout.
type PaymentEvent struct {
	EventID        string
	ReportedStatus ReportedStatus
	InvoiceRef     string
	Timestamp      time.Time
	Amount         string
	Currency       string
	PaymentMethod  string
}
