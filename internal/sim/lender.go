package sim

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/ammarb/internal/domain"
	"github.com/alanyoungcy/ammarb/internal/saga"
)

// Lender is a flash-loan issuer. Borrow sends the funds, which synchronously
// triggers the borrower's handler, and then checks that at least the lent
// amount has come back. Anything short of that undoes the whole loan.
type Lender struct {
	account string
	ledger  domain.Ledger
	logger  *slog.Logger
}

var _ domain.LoanIssuer = (*Lender)(nil)

// NewLender creates a lender operating from account.
func NewLender(account string, ledger domain.Ledger, logger *slog.Logger) *Lender {
	return &Lender{
		account: account,
		ledger:  ledger,
		logger:  logger.With(slog.String("component", "flash_lender")),
	}
}

func (l *Lender) Account() string { return l.account }

func (l *Lender) Borrow(ctx context.Context, req domain.LoanRequest) error {
	if !req.Quantity.Quantity.IsPositive() {
		return fmt.Errorf("lender: %w: loan %s must be positive", domain.ErrInput, req.Quantity)
	}
	return saga.Nested(ctx, "flash loan", func(ctx context.Context) error {
		sym := req.Quantity.ExtendedSymbol()
		before, err := l.ledger.Balance(ctx, l.account, sym)
		if err != nil {
			return fmt.Errorf("lender: balance: %w", err)
		}
		l.logger.InfoContext(ctx, "lending",
			slog.String("to", req.Requester),
			slog.String("quantity", req.Quantity.String()),
		)
		if err := l.ledger.Transfer(ctx, domain.Transfer{
			From:     l.account,
			To:       req.Requester,
			Quantity: req.Quantity,
			Memo:     req.Memo,
		}); err != nil {
			return fmt.Errorf("lender: %w", err)
		}
		after, err := l.ledger.Balance(ctx, l.account, sym)
		if err != nil {
			return fmt.Errorf("lender: balance: %w", err)
		}
		if after.Amount < before.Amount {
			return fmt.Errorf("lender: %w: %s short", domain.ErrLoanNotRepaid,
				domain.Asset{Amount: before.Amount - after.Amount, Symbol: sym.Symbol})
		}
		return nil
	})
}
