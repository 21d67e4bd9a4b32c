package ddns

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// New constructs a DDNSClient that keeps domain pointed at the current external IP.
//
// A Nameserver must be registered with UsingCloudflare or UsingNameserver.
// Without UsingIPProvider the client asks DefaultIPService.
func New(domain string, options ...clientOption) (DDNSClient, error) {
	if domain == "" {
		return nil, fmt.Errorf("ddns.New: domain cannot be empty")
	}
	if len(domain) > MaxNameLength {
		return nil, fmt.Errorf("ddns.New: %w: domain is longer than %d characters", ErrInvalidName, MaxNameLength)
	}
	c := &client{
		domain: domain,
		logger: Discard,
	}
	for i, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("ddns.New: option %d returned an error: %s", i, err)
		}
	}

	if c.Nameserver == nil {
		return nil, fmt.Errorf("ddns.New: no DNS provider was registered and there is no default option - use ddns.UsingCloudflare or similar")
	}
	if c.IPProvider == nil {
		r, err := WebResolver(DefaultIPService)
		if err != nil {
			return nil, fmt.Errorf("ddns.New: %w", err)
		}
		c.IPProvider = r
	}
	if c.httpClient != nil {
		setHTTPClient(c.IPProvider, c.httpClient)
		setHTTPClient(c.Nameserver, c.httpClient)
	}
	return c, nil
}

type clientOption func(*client) error

// UsingCloudflare registers a Cloudflare Nameserver for the zone zoneID.
func UsingCloudflare(token, zoneID string, options ...CloudflareOption) clientOption {
	return func(c *client) (err error) {
		if c.Nameserver, err = NewCloudflare(token, zoneID, options...); err != nil {
			return fmt.Errorf("ddns.UsingCloudflare: error creating cloudflare DNS provider: %w", err)
		}
		return nil
	}
}

// UsingNameserver registers any Nameserver implementation.
func UsingNameserver(ns Nameserver) clientOption {
	return func(c *client) error {
		if ns == nil {
			return errors.New("ddns.UsingNameserver: nameserver cannot be nil")
		}
		c.Nameserver = ns
		return nil
	}
}

// UsingIPProvider sets the source of the external IP. A nil provider selects the default.
func UsingIPProvider(provider IPProvider) clientOption {
	return func(c *client) error {
		c.IPProvider = provider
		return nil
	}
}

// UsingWebResolver is shorthand for UsingIPProvider(WebResolver(serviceURL)).
func UsingWebResolver(serviceURL string) clientOption {
	return func(c *client) (err error) {
		c.IPProvider, err = WebResolver(serviceURL)
		return err
	}
}

// WithLogger sets the logger handed to every provider call. A nil logger discards messages.
func WithLogger(logger Logger) clientOption {
	return func(c *client) error {
		if logger == nil {
			logger = Discard
		}
		c.logger = logger
		return nil
	}
}

// UsingHTTPClient sets the HTTP client for every registered dependency that makes HTTP requests.
// It applies regardless of the order in which options are given.
func UsingHTTPClient(httpclient *http.Client) clientOption {
	return func(c *client) error {
		if httpclient == nil {
			httpclient = http.DefaultClient
		}
		c.httpClient = httpclient
		return nil
	}
}

func setHTTPClient(dependency any, httpclient *http.Client) {
	type httpClientSetter interface {
		SetHTTPClient(*http.Client)
	}
	if s, ok := dependency.(httpClientSetter); ok {
		s.SetHTTPClient(httpclient)
	}
}

// DDNSClient runs reconciliation cycles for one domain.
type DDNSClient interface {
	RunDDNS(ctx context.Context) Result
}

type client struct {
	IPProvider
	Nameserver
	logger     Logger
	domain     string
	httpClient *http.Client
}

// RunDDNS performs one reconciliation cycle. Failures are logged, never returned.
func (c *client) RunDDNS(ctx context.Context) Result {
	start := time.Now()
	res := Refresh(ctx, c.IPProvider, c.Nameserver, c.domain, c.logger)
	observe(res, time.Since(start).Seconds())
	return res
}

// RunDaemon runs ddnsClient immediately and then again interval after each cycle finishes,
// until ctx is cancelled. Cycles never overlap.
//
// A cycle that panics is logged at critical level and does not stop the daemon.
// RunDaemon returns nil once ctx is done and an error only when interval is not positive.
func RunDaemon(ctx context.Context, ddnsClient DDNSClient, interval time.Duration, logger Logger) error {
	if interval <= 0 {
		return fmt.Errorf("ddns.RunDaemon: interval must be positive; got %s", interval)
	}
	if logger == nil {
		if c, ok := ddnsClient.(*client); ok {
			logger = c.logger
		} else {
			logger = Discard
		}
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			runCycle(ctx, ddnsClient, logger)
			timer.Reset(interval)
		}
	}
}

func runCycle(ctx context.Context, ddnsClient DDNSClient, logger Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Criticalf("ddns.RunDaemon: reconciliation cycle panicked: %v", r)
		}
	}()
	res := ddnsClient.RunDDNS(ctx)
	logger.Debugf("reconciliation cycle finished: %s", res.Outcome)
}
