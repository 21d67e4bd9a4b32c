package ddns

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// DefaultIPService is the lookup service used when no other IP provider is configured.
const DefaultIPService = "https://api.ipify.org"

// DefaultTimeout bounds every network call made by the providers in this package.
const DefaultTimeout = 5 * time.Second

const maxBodySize = 256

// WebResolver constructs an IP provider which asks an external web service for the caller's public IPv4 address.
//
// The service must speak http, answer GET with a 2xx status,
// and return a bare IPv4 address as the response body. Surrounding whitespace is ignored.
// All other responses are considered an error.
// Exactly one request is made per lookup.
func WebResolver(serviceURL string) (IPProvider, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q in %s", u.Scheme, serviceURL)
	}
	return &webResolver{
		httpClient: cleanhttp.DefaultPooledClient(),
		serviceURL: u,
		timeout:    DefaultTimeout,
	}, nil
}

type webResolver struct {
	httpClient *http.Client
	serviceURL *url.URL
	timeout    time.Duration
}

func (wr *webResolver) SetHTTPClient(c *http.Client) { wr.httpClient = c }
func (wr *webResolver) SetTimeout(d time.Duration)   { wr.timeout = d }

// ExternalIP implements ddns.IPProvider.
func (wr *webResolver) ExternalIP(ctx context.Context, log Logger) (netip.Addr, error) {
	ip, err := wr.lookup(ctx)
	if err != nil {
		log.Errorf("%s", err)
		return netip.Addr{}, err
	}
	log.Infof("successfully fetched IP from %s: %s", wr.serviceURL.Host, ip)
	return ip, nil
}

func (wr *webResolver) lookup(ctx context.Context) (netip.Addr, error) {
	ctx, cancel := context.WithTimeout(ctx, wr.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wr.serviceURL.String(), nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := wr.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return netip.Addr{}, fmt.Errorf("request to %s timed out after %s: %w", wr.serviceURL.Host, wr.timeout, err)
		}
		return netip.Addr{}, fmt.Errorf("http request to %s failed: %w", wr.serviceURL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return netip.Addr{}, fmt.Errorf("http request to %s returned %s", wr.serviceURL.Host, resp.Status)
	}

	// a bare address is at most 15 bytes; anything much longer is not what we asked for
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error reading response body from %s: %w", wr.serviceURL.Host, err)
	}
	if len(raw) > maxBodySize {
		return netip.Addr{}, fmt.Errorf("response body from %s is longer than %d bytes", wr.serviceURL.Host, maxBodySize)
	}
	body := strings.TrimSpace(string(raw))
	ip, err := netip.ParseAddr(body)
	if err != nil || !ip.Is4() {
		return netip.Addr{}, fmt.Errorf("received an invalid IPv4 address from %s: %q", wr.serviceURL.Host, body)
	}
	return ip, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
