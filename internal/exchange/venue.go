// Package exchange adapts AMM venues to a single quoting and swap-routing
// interface. Each supported venue is one row of a dispatch table that names
// its contract account and how its swap memo is formed.
package exchange

import (
	"fmt"
	"strconv"

	"github.com/alanyoungcy/ammarb/internal/domain"
)

// Venue describes one supported AMM.
type Venue struct {
	ID       string
	Contract string
	memo     func(l domain.Listing) string
}

// Memo returns the transfer memo that routes a swap on listing l.
func (v Venue) Memo(l domain.Listing) string {
	return v.memo(l)
}

// "swap,<min_out>,<pair_id>"
func commaPairMemo(l domain.Listing) string {
	return "swap,0," + strconv.FormatUint(l.PairID, 10)
}

// "swap:<pair_id>:<min_out>"
func colonPairMemo(l domain.Listing) string {
	return "swap:" + strconv.FormatUint(l.PairID, 10) + ":0"
}

// SX-style venues route by the code of the token wanted back.
func targetCodeMemo(l domain.Listing) string {
	return l.Target.Symbol.Code
}

var venueTable = []Venue{
	{ID: "defibox", Contract: "swap.defi", memo: commaPairMemo},
	{ID: "dfs", Contract: "defisswapcnt", memo: colonPairMemo},
	{ID: "swap.sx", Contract: "swap.sx", memo: targetCodeMemo},
	{ID: "vigor.sx", Contract: "vigor.sx", memo: targetCodeMemo},
	{ID: "stable.sx", Contract: "stable.sx", memo: targetCodeMemo},
	{ID: "hamburger", Contract: "hamburgerswp", memo: commaPairMemo},
	{ID: "pizza", Contract: "pzaswapcntct", memo: colonPairMemo},
}

// LookupVenue returns the dispatch-table row for id.
func LookupVenue(id string) (Venue, error) {
	for _, v := range venueTable {
		if v.ID == id {
			return v, nil
		}
	}
	return Venue{}, fmt.Errorf("exchange: %w: %q", domain.ErrUnsupportedExchange, id)
}

// VenueIDs returns every supported venue id in table order.
func VenueIDs() []string {
	ids := make([]string, len(venueTable))
	for i, v := range venueTable {
		ids[i] = v.ID
	}
	return ids
}
