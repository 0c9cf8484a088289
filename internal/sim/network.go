package sim

import (
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/ammarb/internal/domain"
	"github.com/alanyoungcy/ammarb/internal/exchange"
	"github.com/alanyoungcy/ammarb/internal/ledger"
)

// VenuePools seeds the pools of one venue.
type VenuePools struct {
	Venue string
	Pools []PoolSpec
}

// Balance seeds an account balance.
type Balance struct {
	Account  string
	Quantity domain.ExtendedAsset
}

// NetworkConfig describes a complete simulated environment.
type NetworkConfig struct {
	LenderAccount string
	Venues        []VenuePools
	Balances      []Balance
}

// Network is a ledger with simulated venues and a lender attached.
type Network struct {
	Ledger *ledger.Memory
	Lender *Lender
	venues map[string]*Venue
	order  []string
}

// NewNetwork builds the ledger, funds every venue with its pool reserves and
// every listed account with its balance, and subscribes the venues.
func NewNetwork(cfg NetworkConfig, logger *slog.Logger) (*Network, error) {
	l := ledger.NewMemory(logger)
	n := &Network{
		Ledger: l,
		Lender: NewLender(cfg.LenderAccount, l, logger),
		venues: make(map[string]*Venue),
	}
	for _, vp := range cfg.Venues {
		v, ok := n.venues[vp.Venue]
		if !ok {
			var err error
			v, err = NewVenue(vp.Venue, l, logger)
			if err != nil {
				return nil, fmt.Errorf("sim: %w", err)
			}
			n.venues[vp.Venue] = v
			n.order = append(n.order, vp.Venue)
			l.Subscribe(v.Account(), v)
		}
		for _, spec := range vp.Pools {
			if err := v.AddPool(spec); err != nil {
				return nil, err
			}
			if err := l.Issue(v.Account(), spec.Reserve0); err != nil {
				return nil, fmt.Errorf("sim: fund %s: %w", vp.Venue, err)
			}
			if err := l.Issue(v.Account(), spec.Reserve1); err != nil {
				return nil, fmt.Errorf("sim: fund %s: %w", vp.Venue, err)
			}
		}
	}
	for _, b := range cfg.Balances {
		if err := l.Issue(b.Account, b.Quantity); err != nil {
			return nil, fmt.Errorf("sim: fund %s: %w", b.Account, err)
		}
	}
	return n, nil
}

// Venue returns the simulated venue with the given id.
func (n *Network) Venue(id string) (*Venue, bool) {
	v, ok := n.venues[id]
	return v, ok
}

// Pairs returns the pair registry rows of every venue in configuration order.
func (n *Network) Pairs() []domain.Pair {
	var out []domain.Pair
	for _, id := range n.order {
		out = append(out, n.venues[id].Pairs()...)
	}
	return out
}

// Adapters builds one exchange adapter per venue, in configuration order,
// reading reserves from the simulated pools.
func (n *Network) Adapters(registry domain.PairRegistry) ([]exchange.Adapter, error) {
	out := make([]exchange.Adapter, 0, len(n.order))
	for _, id := range n.order {
		a, err := exchange.New(id, registry, n.venues[id])
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
