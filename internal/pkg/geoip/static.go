package geoip

import (
	"context"
	"fmt"
)

// StaticResolver answers from a fixed table. Used by the seeder and tests.
type StaticResolver map[string]Location

// Lookup returns the table entry for ip.
func (s StaticResolver) Lookup(_ context.Context, ip string) (Location, error) {
	loc, ok := s[ip]
	if !ok {
		return Location{}, fmt.Errorf("%w: %s not in static table", ErrLookupFailed, ip)
	}
	return loc, nil
}
