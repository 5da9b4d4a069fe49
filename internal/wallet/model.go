package wallet

import (
	"time"

	"github.com/novoin/novoin_wallet/internal/currency"
)

// Balance is a point-in-time view of an account's Novoin.
type Balance struct {
	AccountID    string
	Amount       currency.Novoin
	LastSequence int64
	AsOf         time.Time
}

// Result describes the outcome of a balance-affecting operation. Replayed is
// set when the operation had already been applied and nothing new was written.
type Result struct {
	AccountID string
	EntryID   string
	Sequence  int64
	Amount    currency.Novoin
	Balance   currency.Novoin
	Replayed  bool
	AppliedAt time.Time
}

// PurchaseResult describes a catalog package purchase.
type PurchaseResult struct {
	AccountID string
	PackageID string
	Coins     currency.Novoin
	Bonus     currency.Novoin
	Balance   currency.Novoin
	Replayed  bool
	AppliedAt time.Time
}

// CreditInput captures a provider-confirmed payment in Rupiah.
type CreditInput struct {
	AccountID    string
	AmountRupiah currency.Rupiah
	ExternalRef  string
}

// PackageInput captures a provider-confirmed catalog purchase. AmountRupiah is
// what the provider collected and must equal the package price.
type PackageInput struct {
	AccountID    string
	PackageID    string
	AmountRupiah currency.Rupiah
	ExternalRef  string
}

// DebitInput captures an in-app spend. IdempotencyToken is chosen by the
// caller and makes retries safe.
type DebitInput struct {
	AccountID        string
	Amount           currency.Novoin
	Reason           string
	IdempotencyToken string
}

// RefundInput captures a chargeback of a previous payment. When PackageID is
// set the chargeback reverses the whole package, bonus included.
type RefundInput struct {
	AccountID    string
	AmountRupiah currency.Rupiah
	PackageID    string
	ExternalRef  string
}
