package arbitrage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// RoutesChannel is the signal bus channel route events are published on.
const RoutesChannel = "routes"

// Executor runs one settlement.
type Executor interface {
	Execute(ctx context.Context, req domain.SettlementRequest) (domain.Settlement, error)
}

// QuoteReporter receives every scan result, e.g. for a console table.
type QuoteReporter interface {
	ReportQuotes(ctx context.Context, book domain.QuoteBook, route *domain.Route) error
}

// ScannerConfig configures the scanner.
type ScannerConfig struct {
	Finder   *Finder
	Requests []domain.SettlementRequest
	Interval time.Duration
	// Executor is nil in scan-only mode.
	Executor Executor
	// AttemptsPerMinute caps settlement attempts across all requests.
	AttemptsPerMinute int
	Bus               domain.SignalBus
	Reporter          QuoteReporter
	Logger            *slog.Logger
}

// Scanner periodically looks for a profitable route for each configured
// stake and, when an executor is set, settles it.
type Scanner struct {
	finder   *Finder
	requests []domain.SettlementRequest
	interval time.Duration
	executor Executor
	limiter  *rate.Limiter
	bus      domain.SignalBus
	reporter QuoteReporter
	logger   *slog.Logger
}

// NewScanner creates a scanner.
func NewScanner(cfg ScannerConfig) *Scanner {
	perMin := cfg.AttemptsPerMinute
	if perMin <= 0 {
		perMin = 6
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Scanner{
		finder:   cfg.Finder,
		requests: cfg.Requests,
		interval: interval,
		executor: cfg.Executor,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1),
		bus:      cfg.Bus,
		reporter: cfg.Reporter,
		logger:   cfg.Logger.With(slog.String("component", "route_scanner")),
	}
}

// routeEvent is the JSON shape published to RoutesChannel.
type routeEvent struct {
	Event     string        `json:"event"`
	Route     *domain.Route `json:"route,omitempty"`
	Stake     string        `json:"stake"`
	Error     string        `json:"error,omitempty"`
	Timestamp string        `json:"timestamp"`
}

// Run scans every interval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "route scanner started",
		slog.Int("stakes", len(s.requests)),
		slog.Duration("interval", s.interval),
		slog.Bool("execute", s.executor != nil),
	)
	defer s.logger.Info("route scanner stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.ScanOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ScanOnce runs one pass over every configured stake and returns the
// settlements it executed.
func (s *Scanner) ScanOnce(ctx context.Context) []domain.Settlement {
	var done []domain.Settlement
	for _, req := range s.requests {
		if ctx.Err() != nil {
			return done
		}
		st, ok := s.scan(ctx, req)
		if ok {
			done = append(done, st)
		}
	}
	return done
}

func (s *Scanner) scan(ctx context.Context, req domain.SettlementRequest) (domain.Settlement, bool) {
	book, err := s.finder.Quotes(ctx, req.Stake)
	if err != nil {
		s.logger.WarnContext(ctx, "quote aggregation failed",
			slog.String("stake", req.Stake.String()),
			slog.String("error", err.Error()),
		)
		return domain.Settlement{}, false
	}

	route, err := s.finder.Select(ctx, book)
	var found *domain.Route
	if err == nil {
		found = &route
	}
	if s.reporter != nil {
		if rerr := s.reporter.ReportQuotes(ctx, book, found); rerr != nil {
			s.logger.WarnContext(ctx, "quote report failed", slog.String("error", rerr.Error()))
		}
	}
	if err != nil {
		if errors.Is(err, domain.ErrNoProfitableRoute) {
			s.logger.DebugContext(ctx, "no profitable route", slog.String("stake", req.Stake.String()))
		} else {
			s.logger.WarnContext(ctx, "route selection failed",
				slog.String("stake", req.Stake.String()),
				slog.String("error", err.Error()),
			)
		}
		return domain.Settlement{}, false
	}

	s.logger.InfoContext(ctx, "profitable route found",
		slog.String("stake", req.Stake.String()),
		slog.String("sell", route.Sell.Venue),
		slog.String("buy", route.Buy.Venue),
		slog.String("intermediate", route.Sell.Output.Quantity.String()),
		slog.String("gain", route.Gain.String()),
	)
	s.publish(ctx, routeEvent{Event: "route_found", Route: &route, Stake: req.Stake.String()})

	if s.executor == nil {
		return domain.Settlement{}, false
	}
	if !s.limiter.Allow() {
		s.logger.InfoContext(ctx, "settlement attempt rate limited", slog.String("stake", req.Stake.String()))
		return domain.Settlement{}, false
	}
	st, err := s.executor.Execute(ctx, req)
	if err != nil {
		s.logger.WarnContext(ctx, "settlement failed",
			slog.String("stake", req.Stake.String()),
			slog.String("error", err.Error()),
		)
		s.publish(ctx, routeEvent{Event: "settlement_failed", Stake: req.Stake.String(), Error: err.Error()})
		return domain.Settlement{}, false
	}
	return st, true
}

func (s *Scanner) publish(ctx context.Context, ev routeEvent) {
	if s.bus == nil {
		return
	}
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.WarnContext(ctx, "marshal route event", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, RoutesChannel, data); err != nil {
		s.logger.WarnContext(ctx, "publish route event", slog.String("error", err.Error()))
	}
}
