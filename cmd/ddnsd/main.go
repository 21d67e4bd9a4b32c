// Command ddnsd keeps a Cloudflare A record pointed at this host's public IPv4 address.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Travis-Britz/ddns/v2"
	"github.com/Travis-Britz/ddns/v2/internal/config"
	"github.com/cloudflare/cloudflare-go"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

var flags = struct {
	ConfigFile string
	Verbose    bool
	Once       bool
}{}

func init() {
	flag.StringVar(&flags.ConfigFile, "c", "", "Path to an optional INI configuration file; environment variables take precedence")
	flag.BoolVar(&flags.Verbose, "v", false, "Enable verbose logging")
	flag.BoolVar(&flags.Once, "once", false, "Run a single reconciliation cycle and exit")
}

func main() {
	flag.Parse()

	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := base.WithField("component", "ddnsd")
	logger := ddns.NewLogger(entry)

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		logger.Criticalf("invalid configuration: %s", err)
		os.Exit(1)
	}
	configureLogger(base, cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	client, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Criticalf("%s", err)
		os.Exit(1)
	}

	if flags.Once {
		res := client.RunDDNS(ctx)
		logger.Infof("reconciliation finished: %s", res.Outcome)
		return
	}

	startMetricsServer(ctx, cfg.MetricsAddr, logger)

	logger.Infof("starting ddnsd for %s with interval %s using %s IP source", cfg.Domain, cfg.RefreshInterval, cfg.IP.Source)
	if err := ddns.RunDaemon(ctx, client, cfg.RefreshInterval, logger); err != nil {
		logger.Criticalf("%s", err)
		os.Exit(1)
	}
	logger.Infof("shutdown complete")
}

func configureLogger(l *logrus.Logger, cfg config.LogConfig) {
	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		l.WithError(err).Warnf("unknown log level %q; using info", cfg.Level)
		level = logrus.InfoLevel
	}
	if flags.Verbose {
		level = logrus.DebugLevel
	}
	l.SetLevel(level)
}

// build validates the credentials and wires the configured providers into a client.
func build(ctx context.Context, cfg *config.Config, logger ddns.Logger) (ddns.DDNSClient, error) {
	token, err := apiToken(ctx, cfg.Cloudflare, logger)
	if err != nil {
		return nil, fmt.Errorf("error reading key: %w", err)
	}

	zoneID := cfg.Cloudflare.ZoneID
	if zoneID == "" {
		logger.Infof("CLOUDFLARE_ZONE_ID is not set; looking up zone for %s...", cfg.Domain)
		api, err := cloudflare.NewWithAPIToken(token)
		if err != nil {
			return nil, fmt.Errorf("error creating api client: %w", err)
		}
		if zoneID, err = ddns.ZoneIDForDomain(ctx, api, cfg.Domain); err != nil {
			return nil, fmt.Errorf("unable to get zone ID for %s: %w", cfg.Domain, err)
		}
		logger.Infof("got zone ID: %s", zoneID)
	}

	cfOptions := []ddns.CloudflareOption{
		ddns.WithComment(cfg.Cloudflare.Comment),
		ddns.WithTTL(cfg.Cloudflare.TTL),
		ddns.WithTimeout(cfg.IP.Timeout),
	}
	if cfg.Cloudflare.Proxied != nil {
		cfOptions = append(cfOptions, ddns.WithProxied(*cfg.Cloudflare.Proxied))
	}

	resolver, err := ipProvider(cfg.IP)
	if err != nil {
		return nil, fmt.Errorf("error creating IP provider: %w", err)
	}

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = cfg.IP.Timeout

	client, err := ddns.New(cfg.Domain,
		ddns.UsingCloudflare(token, zoneID, cfOptions...),
		ddns.UsingIPProvider(resolver),
		ddns.WithLogger(logger),
		ddns.UsingHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating ddns client: %w", err)
	}
	return client, nil
}

func ipProvider(cfg config.IPConfig) (ddns.IPProvider, error) {
	type timeoutSetter interface {
		SetTimeout(time.Duration)
	}
	var (
		p   ddns.IPProvider
		err error
	)
	switch cfg.Source {
	case config.SourceWeb:
		p, err = ddns.WebResolver(cfg.URL)
	case config.SourceDNS:
		p = ddns.DNSResolver(cfg.DNSServer, cfg.DNSName)
	case config.SourceInterface:
		p = ddns.InterfaceResolver(cfg.Interface)
	case config.SourceStatic:
		p, err = ddns.FromString(cfg.Static)
	default:
		err = fmt.Errorf("unknown IP source %q", cfg.Source)
	}
	if err != nil {
		return nil, err
	}
	if ts, ok := p.(timeoutSetter); ok {
		ts.SetTimeout(cfg.Timeout)
	}
	return p, nil
}

// apiToken returns the configured token, falling back to the key file.
// When the key file does not exist and stdin is a terminal the user is asked for a token.
func apiToken(ctx context.Context, cfg config.CloudflareConfig, logger ddns.Logger) (string, error) {
	if cfg.APIToken != "" {
		return cfg.APIToken, nil
	}

	_, err := os.Stat(cfg.KeyFile)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Infof("key file \"%s\" does not exist", cfg.KeyFile)
		if !term.IsTerminal(int(syscall.Stdin)) {
			return "", fmt.Errorf("CLOUDFLARE_API_TOKEN is not set and key file \"%s\" does not exist", cfg.KeyFile)
		}
		if err := runSetup(ctx, cfg.KeyFile, logger); err != nil {
			return "", fmt.Errorf("setup: %w", err)
		}
	}
	if err := verifyPermissions(cfg.KeyFile); err != nil {
		return "", err
	}
	key, err := readKey(cfg.KeyFile)
	if err != nil {
		return "", err
	}
	logger.Debugf("successfully read key from key file")
	return key, nil
}

func runSetup(ctx context.Context, keyFile string, logger ddns.Logger) error {
	logger.Infof("running setup")
	time.Sleep(200 * time.Millisecond) // dirty timer hack to try to get stderr and stdout output lines to display in order
	fmt.Printf("Enter Cloudflare API Token: \n")
	bytekey, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("runSetup: error reading from stdin: %w", err)
	}
	key := strings.TrimSpace(string(bytekey))

	api, err := cloudflare.NewWithAPIToken(key)
	if err != nil {
		return fmt.Errorf("error creating api client: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	logger.Infof("verifying token...")
	result, err := api.VerifyAPIToken(ctx)
	if err != nil {
		return fmt.Errorf("unable to verify api token: %w", err)
	}
	if result.Status != "active" {
		return fmt.Errorf("expected api token status to be \"active\"; got \"%s\"", result.Status)
	}
	logger.Infof("token verified successfully")

	logger.Infof("creating key file at \"%s\"", keyFile)
	f, err := os.OpenFile(keyFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("unable to create \"%s\": %w", keyFile, err)
	}
	defer f.Close()
	fmt.Fprintln(f, key)
	logger.Infof("token written to \"%s\"", keyFile)
	return nil
}

func readKey(path string) (key string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error reading key: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	keyb, _, err := r.ReadLine()
	if err != nil {
		return "", fmt.Errorf("error reading line: %w", err)
	}
	return strings.TrimSpace(string(keyb)), nil
}

func verifyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error checking keyfile permissions: %w", err)
	}

	perms := info.Mode().Perm()
	// Error messages will state that we want 0600,
	// but we'll also accept 0400 which is even more restricted.
	// The file might be provided by some secrets managing software as readonly.
	if perms != 0600 && perms != 0400 {
		return fmt.Errorf("invalid permissions for \"%s\": expected file permissions \"-rw-------\"; found \"%s\"", path, fs.FileMode(perms))
	}

	return nil
}

func startMetricsServer(ctx context.Context, addr string, logger ddns.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Infof("metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server failed: %s", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
