package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// Console prints each scan as a quote table followed by the selected route.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewConsole writes to stdout.
func NewConsole() *Console { return NewConsoleWriter(os.Stdout) }

// NewConsoleWriter writes to w.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w, now: time.Now}
}

// ReportQuotes prints book and, when route is non-nil, the chosen route.
func (c *Console) ReportQuotes(_ context.Context, book domain.QuoteBook, route *domain.Route) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stamp := c.now().Format("15:04:05")
	if len(book.Targets) == 0 {
		fmt.Fprintf(c.out, "[%s] %s: no venue quotes\n", stamp, book.Base.Quantity)
		return nil
	}

	fmt.Fprintf(c.out, "\n[%s] quotes for %s\n", stamp, book.Base)
	table := tablewriter.NewWriter(c.out)
	table.Header("Target", "Venue", "Pair", "Fee bps", "Output", "Eligible")
	for _, tq := range book.Targets {
		eligible := "no"
		if tq.Eligible {
			eligible = "yes"
		}
		for _, q := range tq.Quotes {
			table.Append(
				tq.Target.String(),
				q.Venue,
				fmt.Sprintf("%d", q.PairID),
				fmt.Sprintf("%d", q.FeeBps),
				q.Output.Quantity.String(),
				eligible,
			)
		}
	}
	table.Render()

	if route == nil {
		fmt.Fprintln(c.out, "  no profitable route")
		return nil
	}
	fmt.Fprintf(c.out, "  route: sell %s on %s for %s, buy back on %s for %s, gain %s\n",
		route.Stake.Quantity, route.Sell.Venue, route.Sell.Output.Quantity,
		route.Buy.Venue, route.Buy.Output.Quantity, route.Gain)
	return nil
}

// Send implements Sender so the console can also receive settlement alerts.
func (c *Console) Send(_ context.Context, title, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "[%s] %s\n%s\n", c.now().Format("15:04:05"), title, message)
	return err
}

func (c *Console) Name() string { return "console" }
