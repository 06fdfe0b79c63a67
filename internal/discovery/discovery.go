// Package discovery advertises a relay on the local network over mDNS and
// lets endpoints find one without being told its address.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/1ureka/drop/internal/util"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_drop-relay._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultPath is the WebSocket path advertised in the TXT record.
	DefaultPath = "/ws"
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
	// DefaultScanTimeout bounds one discovery scan.
	DefaultScanTimeout = 3 * time.Second
)

// ErrNoRelay is returned when a scan ends without finding any relay.
var ErrNoRelay = errors.New("no relay found on the local network")

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls advertisement and scanning.
type Config struct {
	Service     string
	Domain      string
	Path        string
	ScanTimeout time.Duration

	Instance string // advertised instance name
	Port     int    // advertised relay port

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Path == "" {
		out.Path = DefaultPath
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

// Relay is one relay found on the network.
type Relay struct {
	Instance string
	URL      string // ws://host:port/path
}

// ---------------------------------------------------------------------------
// Advertisement
// ---------------------------------------------------------------------------

// Advertiser announces a relay via mDNS until stopped.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers the relay and starts answering mDNS queries.
func Advertise(config Config) (*Advertiser, error) {
	cfg := config.withDefaults()
	if strings.TrimSpace(cfg.Instance) == "" {
		return nil, errors.New("instance name is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid relay port %d", cfg.Port)
	}

	txt := []string{
		"path=" + cfg.Path,
		"version=" + strconv.Itoa(DefaultVersion),
	}

	server, err := cfg.registerFn(cfg.Instance, cfg.Service, cfg.Domain, cfg.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	util.LogInfo("advertising relay %q on port %d via mDNS", cfg.Instance, cfg.Port)
	return &Advertiser{server: server}, nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

// ---------------------------------------------------------------------------
// Scanning
// ---------------------------------------------------------------------------

// Browse scans for cfg.ScanTimeout (or until ctx is done) and returns every
// relay seen, sorted by instance name.
func Browse(ctx context.Context, config Config) ([]Relay, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	found := make(map[string]Relay)
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if relay, ok := parseEntry(entry, cfg.Path); ok {
					found[relay.URL] = relay
				}
			}
		}
	}()

	if err := browse(scanCtx, cfg.Service, cfg.Domain, entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", cfg.Service, err)
	}

	<-scanCtx.Done()
	<-collectorDone

	// A deadline just means the scan window ended; a cancelled parent wins.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	relays := make([]Relay, 0, len(found))
	for _, r := range found {
		relays = append(relays, r)
	}
	sort.Slice(relays, func(i, j int) bool {
		if relays[i].Instance != relays[j].Instance {
			return relays[i].Instance < relays[j].Instance
		}
		return relays[i].URL < relays[j].URL
	})
	return relays, nil
}

// Discover returns the first relay found, or ErrNoRelay.
func Discover(ctx context.Context, config Config) (Relay, error) {
	relays, err := Browse(ctx, config)
	if err != nil {
		return Relay{}, err
	}
	if len(relays) == 0 {
		return Relay{}, ErrNoRelay
	}
	return relays[0], nil
}

func parseEntry(entry *zeroconf.ServiceEntry, defaultPath string) (Relay, bool) {
	if entry == nil || entry.Port <= 0 {
		return Relay{}, false
	}

	txt := txtToMap(entry.Text)
	path := strings.TrimSpace(txt["path"])
	if path == "" {
		path = defaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	host := ""
	switch {
	case len(entry.AddrIPv4) > 0 && entry.AddrIPv4[0] != nil:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0 && entry.AddrIPv6[0] != nil:
		host = entry.AddrIPv6[0].String()
	default:
		host = strings.TrimSuffix(entry.HostName, ".")
	}
	if host == "" {
		return Relay{}, false
	}

	name := strings.TrimSpace(entry.Instance)
	if name == "" {
		name = host
	}

	return Relay{
		Instance: name,
		URL:      "ws://" + net.JoinHostPort(host, strconv.Itoa(entry.Port)) + path,
	}, true
}

func txtToMap(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		key, value, _ := strings.Cut(r, "=")
		out[strings.TrimSpace(key)] = value
	}
	return out
}
