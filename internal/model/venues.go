package model

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidSecurity = errors.New("model: invalid security notation")
	ErrUnknownVenue    = errors.New("model: unknown venue")
)

// VenueInfo describes one market venue: the currency its listings settle in
// and the default destination orders are routed to.
type VenueInfo struct {
	ID          string   `json:"id"`
	Currency    Currency `json:"currency"`
	Destination string   `json:"destination"`
}

// VenueDatabase resolves a venue id to its settlement currency and default
// order destination. Read-only after construction.
type VenueDatabase struct {
	venues map[string]VenueInfo
}

// NewVenueDatabase builds a database from a list of venues.
func NewVenueDatabase(venues ...VenueInfo) VenueDatabase {
	m := make(map[string]VenueInfo, len(venues))
	for _, v := range venues {
		m[v.ID] = v
	}
	return VenueDatabase{venues: m}
}

// DefaultVenues covers the venues used throughout the engine's tests and
// the default server wiring.
func DefaultVenues() VenueDatabase {
	return NewVenueDatabase(
		VenueInfo{ID: "NASDAQ", Currency: "USD", Destination: "NASDAQ"},
		VenueInfo{ID: "NYSE", Currency: "USD", Destination: "NYSE"},
		VenueInfo{ID: "TSX", Currency: "CAD", Destination: "TSX"},
		VenueInfo{ID: "TSXV", Currency: "CAD", Destination: "TSXV"},
		VenueInfo{ID: "LSE", Currency: "GBP", Destination: "LSE"},
		VenueInfo{ID: "XETRA", Currency: "EUR", Destination: "XETRA"},
	)
}

// From returns the venue info for an id; ok is false for unknown venues.
func (d VenueDatabase) From(id string) (VenueInfo, bool) {
	v, ok := d.venues[id]
	return v, ok
}

// CurrencyOf returns the settlement currency of a security's venue, or the
// empty currency when the venue is unknown.
func (d VenueDatabase) CurrencyOf(s Security) Currency {
	return d.venues[s.Venue].Currency
}

// DestinationOf returns the default destination for a security's venue,
// falling back to the venue id itself when the venue is unknown.
func (d VenueDatabase) DestinationOf(s Security) string {
	if v, ok := d.venues[s.Venue]; ok {
		return v.Destination
	}
	return s.Venue
}

// securityRegex matches {symbol}.{venue}, e.g. TSLA.NASDAQ or XIU.TSX.
var securityRegex = regexp.MustCompile(`^([A-Z0-9]+)\.([A-Z]+)$`)

// ParseSecurity parses "SYMBOL.VENUE" notation and validates the venue
// against the database.
func ParseSecurity(notation string, venues VenueDatabase) (Security, error) {
	matches := securityRegex.FindStringSubmatch(notation)
	if matches == nil {
		return Security{}, fmt.Errorf("%w: %s (expected SYMBOL.VENUE)",
			ErrInvalidSecurity, notation)
	}
	if _, ok := venues.From(matches[2]); !ok {
		return Security{}, fmt.Errorf("%w: %s", ErrUnknownVenue, matches[2])
	}
	return Security{Symbol: matches[1], Venue: matches[2]}, nil
}
