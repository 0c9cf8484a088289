package domain

import "context"

// Transfer moves Quantity from one account to another. Memo carries
// instructions for the recipient (swap routing, loan tagging).
type Transfer struct {
	From     string        `json:"from"`
	To       string        `json:"to"`
	Quantity ExtendedAsset `json:"quantity"`
	Memo     string        `json:"memo"`
}

// Ledger is the token ledger the engine settles against. Transfer notifies
// the recipient synchronously and fails if the recipient's handler fails.
type Ledger interface {
	Transfer(ctx context.Context, t Transfer) error
	Balance(ctx context.Context, account string, sym ExtendedSymbol) (Asset, error)
}

// TransferListener is notified of transfers received by its account.
type TransferListener interface {
	OnTransfer(ctx context.Context, t Transfer) error
}

// TransferListenerFunc adapts a function to TransferListener.
type TransferListenerFunc func(ctx context.Context, t Transfer) error

// OnTransfer calls f.
func (f TransferListenerFunc) OnTransfer(ctx context.Context, t Transfer) error {
	return f(ctx, t)
}

// LoanRequest asks the issuer to lend Quantity to Requester.
type LoanRequest struct {
	Requester string
	Quantity  ExtendedAsset
	Memo      string
}

// LoanIssuer lends funds for the duration of one operation. Borrow transfers
// exactly the requested quantity to the requester before it returns and fails
// with ErrLoanNotRepaid unless the quantity has been returned by then.
type LoanIssuer interface {
	Account() string
	Borrow(ctx context.Context, req LoanRequest) error
}
