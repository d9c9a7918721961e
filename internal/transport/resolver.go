package transport

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// StaticResolver resolves symbols from a fixed, config-provided table.
// It stands in for a real exchange instrument-metadata client; see
// SPEC_FULL.md's domain-stack notes on the resolver boundary.
type StaticResolver struct {
	table map[string]Instrument
}

// NewStaticResolver builds a resolver from symbol -> instrument entries.
func NewStaticResolver(entries map[string]Instrument) *StaticResolver {
	return &StaticResolver{table: entries}
}

func (r *StaticResolver) Resolve(_ context.Context, symbol string) (Instrument, error) {
	inst, ok := r.table[symbol]
	if !ok {
		return Instrument{}, fmt.Errorf("transport: no instrument mapping for symbol %q", symbol)
	}
	return inst, nil
}

// ParseTickSize converts a decimal tick size string, for callers
// assembling the resolver's instrument table from config (which stores
// tick size as a string since decimal.Decimal has no YAML unmarshaler
// of its own).
func ParseTickSize(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
