package ddns

import (
	"context"
	"net/netip"
)

// IPProvider reports the caller's current public IPv4 address.
//
// Implementations log the outcome to log themselves,
// make a single bounded request per call and never retry.
// A non-nil error means no address is available for this cycle.
type IPProvider interface {
	ExternalIP(ctx context.Context, log Logger) (netip.Addr, error)
}

// IPProviderFunc adapts an ordinary function to the IPProvider interface.
type IPProviderFunc func(ctx context.Context, log Logger) (netip.Addr, error)

func (f IPProviderFunc) ExternalIP(ctx context.Context, log Logger) (netip.Addr, error) {
	return f(ctx, log)
}

// Nameserver reads and writes a single A record within one zone.
type Nameserver interface {
	// RecordByName returns the A record published for name.
	// It returns ErrRecordNotFound when there is none and a *MultipleRecordsError when there is more than one.
	RecordByName(ctx context.Context, name string, log Logger) (Record, error)

	// RecordByIP returns the A record whose content is ip, with the same rules as RecordByName.
	RecordByIP(ctx context.Context, ip netip.Addr, log Logger) (Record, error)

	// SetRecord creates the record for record.Name() or updates the existing one in place.
	SetRecord(ctx context.Context, record Record, log Logger) error
}
