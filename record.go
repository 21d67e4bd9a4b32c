package ddns

import (
	"errors"
	"fmt"
	"net/netip"
)

// MaxNameLength is the longest record name accepted by NewRecord.
const MaxNameLength = 255

var (
	ErrInvalidIP   = errors.New("invalid IPv4 address")
	ErrInvalidName = errors.New("invalid record name")

	// ErrRecordNotFound is returned by a Nameserver when no record matches a lookup.
	ErrRecordNotFound = errors.New("DNS record not found")
)

// Record is the desired or observed state of one A record.
//
// The zero value is not a valid record; use NewRecord or ParseRecord.
// Records are comparable with ==.
type Record struct {
	ip   netip.Addr
	name string
}

// NewRecord constructs a Record, rejecting anything that is not an IPv4 address
// and names that are empty or longer than MaxNameLength.
func NewRecord(ip netip.Addr, name string) (Record, error) {
	if !ip.Is4() {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	if name == "" {
		return Record{}, fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return Record{}, fmt.Errorf("%w: name is %d characters; maximum is %d", ErrInvalidName, len(name), MaxNameLength)
	}
	return Record{ip: ip, name: name}, nil
}

// ParseRecord is like NewRecord but parses ip from its dotted-quad form.
func ParseRecord(ip string, name string) (Record, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s", ErrInvalidIP, err)
	}
	return NewRecord(addr, name)
}

func (r Record) IP() netip.Addr { return r.ip }
func (r Record) Name() string   { return r.name }

// IsZero reports whether r is the zero Record.
func (r Record) IsZero() bool { return r == Record{} }

func (r Record) String() string {
	if r.IsZero() {
		return "<zero record>"
	}
	return fmt.Sprintf("%s A %s", r.name, r.ip)
}

// MultipleRecordsError is returned when a lookup that must be unique matches more than one record.
type MultipleRecordsError struct {
	Query string
	Count int
}

func (e *MultipleRecordsError) Error() string {
	return fmt.Sprintf("found %d DNS records matching %s; expected exactly one", e.Count, e.Query)
}
