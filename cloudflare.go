package ddns

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"golang.org/x/net/publicsuffix"
)

// DefaultComment is attached to records created by the Cloudflare provider.
const DefaultComment = "managed by ddns"

// CloudflareOption configures a Cloudflare provider.
type CloudflareOption func(*Cloudflare)

// WithProxied sets the proxy status written on both create and update.
// Without it new records are proxied and updates keep whatever the existing record has.
func WithProxied(proxied bool) CloudflareOption {
	return func(cf *Cloudflare) { cf.proxied = &proxied }
}

// WithComment sets the comment attached to newly created records.
func WithComment(comment string) CloudflareOption {
	return func(cf *Cloudflare) { cf.comment = comment }
}

// WithTTL sets the TTL of newly created records. 1 means "automatic".
func WithTTL(ttl int) CloudflareOption {
	return func(cf *Cloudflare) { cf.ttl = ttl }
}

// WithTimeout bounds each API request.
func WithTimeout(d time.Duration) CloudflareOption {
	return func(cf *Cloudflare) { cf.timeout = d }
}

// WithAPIOptions passes options through to the underlying cloudflare-go client,
// e.g. cloudflare.BaseURL or cloudflare.UsingRetryPolicy.
func WithAPIOptions(opts ...cloudflare.Option) CloudflareOption {
	return func(cf *Cloudflare) { cf.apiOptions = append(cf.apiOptions, opts...) }
}

// Cloudflare implements ddns.Nameserver for the A records of a single Cloudflare zone.
//
// It should be constructed using NewCloudflare.
type Cloudflare struct {
	api        *cloudflare.API
	zone       *cloudflare.ResourceContainer
	apiOptions []cloudflare.Option
	proxied    *bool
	comment    string // optional comment to attach to each new DNS entry
	ttl        int
	timeout    time.Duration
}

// NewCloudflare constructs a Cloudflare provider authenticated with an API token scoped to zoneID.
func NewCloudflare(token, zoneID string, options ...CloudflareOption) (cf *Cloudflare, err error) {
	if zoneID == "" {
		return nil, errors.New("ddns.NewCloudflare: zone ID cannot be empty")
	}
	cf = &Cloudflare{
		zone:    cloudflare.ZoneIdentifier(zoneID),
		comment: DefaultComment,
		ttl:     1,
		timeout: DefaultTimeout,
	}
	for _, opt := range options {
		opt(cf)
	}
	cf.api, err = cloudflare.NewWithAPIToken(token, cf.apiOptions...)
	if err != nil {
		return nil, fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	return cf, nil
}

// SetHTTPClient replaces the HTTP client used for API requests.
func (cf *Cloudflare) SetHTTPClient(c *http.Client) {
	_ = cloudflare.HTTPClient(c)(cf.api)
}

// RecordByName implements ddns.Nameserver.
func (cf *Cloudflare) RecordByName(ctx context.Context, name string, log Logger) (Record, error) {
	return cf.find(ctx, cloudflare.ListDNSRecordsParams{Type: "A", Name: name}, "name "+name, log)
}

// RecordByIP implements ddns.Nameserver.
func (cf *Cloudflare) RecordByIP(ctx context.Context, ip netip.Addr, log Logger) (Record, error) {
	if !ip.Is4() {
		err := fmt.Errorf("%w: %s", ErrInvalidIP, ip)
		log.Errorf("cannot look up DNS record: %s", err)
		return Record{}, err
	}
	return cf.find(ctx, cloudflare.ListDNSRecordsParams{Type: "A", Content: ip.String()}, "content "+ip.String(), log)
}

// SetRecord implements ddns.Nameserver.
//
// The record named record.Name() is created when missing and patched in place otherwise,
// keeping its Cloudflare ID. Nothing is written when the content already matches.
// When several records share the name none of them is touched.
func (cf *Cloudflare) SetRecord(ctx context.Context, record Record, log Logger) error {
	if record.IsZero() {
		err := fmt.Errorf("%w: cannot set the zero record", ErrInvalidName)
		log.Errorf("%s", err)
		return err
	}

	records, count, err := cf.list(ctx, cloudflare.ListDNSRecordsParams{Type: "A", Name: record.Name()})
	if err != nil {
		log.Errorf("unable to look up existing record for %s: %s", record.Name(), err)
		return err
	}

	switch {
	case count == 0:
		return cf.create(ctx, record, log)
	case count == 1 && len(records) == 1:
		return cf.update(ctx, records[0], record, log)
	default:
		err := &MultipleRecordsError{Query: "name " + record.Name(), Count: count}
		log.Errorf("refusing to set %s: %s", record, err)
		return err
	}
}

func (cf *Cloudflare) create(ctx context.Context, record Record, log Logger) error {
	proxied := true
	if cf.proxied != nil {
		proxied = *cf.proxied
	}
	ctx, cancel := context.WithTimeout(ctx, cf.timeout)
	defer cancel()

	log.Debugf("creating record %s...", record)
	created, err := cf.api.CreateDNSRecord(ctx, cf.zone, cloudflare.CreateDNSRecordParams{
		Type:    "A",
		Name:    record.Name(),
		Content: record.IP().String(),
		TTL:     cf.ttl,
		Proxied: &proxied,
		Comment: cf.comment,
	})
	if err != nil {
		err = fmt.Errorf("error creating DNS record %s: %w", record, err)
		log.Errorf("%s", err)
		return err
	}
	log.Infof("successfully created record %s with ID %s", record, created.ID)
	return nil
}

func (cf *Cloudflare) update(ctx context.Context, existing cloudflare.DNSRecord, record Record, log Logger) error {
	proxiedMatches := cf.proxied == nil || (existing.Proxied != nil && *existing.Proxied == *cf.proxied)
	if existing.Content == record.IP().String() && proxiedMatches {
		log.Debugf("record %s (%s) is already up to date", record, existing.ID)
		return nil
	}

	proxied := existing.Proxied
	if cf.proxied != nil {
		proxied = cf.proxied
	}
	ctx, cancel := context.WithTimeout(ctx, cf.timeout)
	defer cancel()

	log.Debugf("updating record %s (%s) from %s...", record, existing.ID, existing.Content)
	_, err := cf.api.UpdateDNSRecord(ctx, cf.zone, cloudflare.UpdateDNSRecordParams{
		ID:      existing.ID,
		Type:    "A",
		Name:    existing.Name,
		Content: record.IP().String(),
		TTL:     existing.TTL,
		Proxied: proxied,
	})
	if err != nil {
		err = fmt.Errorf("error updating DNS record %s (%s): %w", record, existing.ID, err)
		log.Errorf("%s", err)
		return err
	}
	log.Infof("successfully updated record %s (%s)", record, existing.ID)
	return nil
}

// find performs a lookup that must match exactly one record.
func (cf *Cloudflare) find(ctx context.Context, params cloudflare.ListDNSRecordsParams, query string, log Logger) (Record, error) {
	records, n, err := cf.list(ctx, params)
	if err != nil {
		log.Errorf("DNS record lookup by %s failed: %s", query, err)
		return Record{}, err
	}

	switch {
	case n == 0 || len(records) == 0:
		log.Warnf("no A record found matching %s", query)
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, query)
	case n > 1:
		err := &MultipleRecordsError{Query: query, Count: n}
		log.Errorf("cloudflare returned more than one result matching the DNS record query; number of results: %d", n)
		return Record{}, err
	}

	r, err := ParseRecord(records[0].Content, records[0].Name)
	if err != nil {
		err = fmt.Errorf("unable to parse DNS record %s: %w", records[0].ID, err)
		log.Errorf("%s", err)
		return Record{}, err
	}
	log.Debugf("found record %s (%s) matching %s", r, records[0].ID, query)
	return r, nil
}

// list returns the matching records and the number of matches reported by the API.
func (cf *Cloudflare) list(ctx context.Context, params cloudflare.ListDNSRecordsParams) ([]cloudflare.DNSRecord, int, error) {
	ctx, cancel := context.WithTimeout(ctx, cf.timeout)
	defer cancel()

	records, info, err := cf.api.ListDNSRecords(ctx, cf.zone, params)
	if err != nil {
		if isTimeout(err) {
			return nil, 0, fmt.Errorf("request timed out after %s: %w", cf.timeout, err)
		}
		return nil, 0, fmt.Errorf("error listing DNS records: %w", err)
	}
	count := len(records)
	if info != nil && info.Count > count {
		count = info.Count
	}
	return records, count, nil
}

// ZoneIDForDomain finds the ID of the zone that manages domain.
//
// The zone with the longest name that is a suffix of domain wins,
// so a delegated sub-zone is preferred over its parent.
func ZoneIDForDomain(ctx context.Context, api *cloudflare.API, domain string) (zid string, err error) {
	domain = strings.TrimSuffix(strings.ToLower(domain), ".")
	apex, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return "", fmt.Errorf("%s is not a registrable domain: %w", domain, err)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	zones, err := api.ListZones(ctx)
	if err != nil {
		return "", fmt.Errorf("error listing zones: %w", err)
	}

	max := 0
	for _, z := range zones {
		name := strings.ToLower(z.Name)
		if !strings.HasSuffix(name, apex) {
			continue
		}
		if (domain == name || strings.HasSuffix(domain, "."+name)) && len(name) > max {
			max, zid = len(name), z.ID
		}
	}
	if max == 0 {
		return "", fmt.Errorf("unable to find a zone matching \"%s\"", domain)
	}
	return zid, nil
}
