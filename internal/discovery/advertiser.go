// Package discovery advertises the hub over mDNS so devices on the local
// network can find its WebSocket endpoint without static configuration.
//
// Browsing for the hub:
//
//	avahi-browse -r _busnephew-hub._tcp
//
// The TXT record carries path=<websocket path>, version=<build>, site=<site id>.
package discovery

import (
	"fmt"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"

	"github.com/nerrad567/busnephew-hub/internal/infrastructure/config"
)

// Info describes the advertised service.
type Info struct {
	Port    int
	Path    string
	Version string
	SiteID  string
}

// server is the part of *zeroconf.Server the advertiser manages.
type server interface {
	SetText(text []string)
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (server, error)

func zeroconfRegister(instance, service, domain string, port int, text []string, ifaces []net.Interface) (server, error) {
	srv, err := zeroconf.Register(instance, service, domain, port, text, ifaces)
	if err != nil {
		return nil, err
	}
	return srv, nil
}

// Advertiser owns the hub's mDNS registration.
type Advertiser struct {
	cfg      config.DiscoveryConfig
	register registerFunc

	mu     sync.Mutex
	server server
}

// NewAdvertiser creates an advertiser for cfg. Nothing is announced until
// Start.
func NewAdvertiser(cfg config.DiscoveryConfig) *Advertiser {
	return &Advertiser{cfg: cfg, register: zeroconfRegister}
}

// Start announces the service, replacing any earlier announcement.
func (a *Advertiser) Start(info Info) error {
	if info.Port <= 0 {
		return fmt.Errorf("discovery: invalid port %d", info.Port)
	}
	ifaces, err := a.interfaces()
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	srv, err := a.register(a.cfg.Instance, a.cfg.Service, a.cfg.Domain, info.Port, TXT(info), ifaces)
	if err != nil {
		return fmt.Errorf("registering mDNS service %s: %w", a.cfg.Service, err)
	}
	a.server = srv
	return nil
}

// Update replaces the TXT record of a running announcement.
func (a *Advertiser) Update(info Info) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.SetText(TXT(info))
	}
}

// Shutdown withdraws the announcement. It is safe to call more than once.
func (a *Advertiser) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// interfaces returns nil (all interfaces) unless one is configured.
func (a *Advertiser) interfaces() ([]net.Interface, error) {
	if a.cfg.Interface == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(a.cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("discovery interface %q: %w", a.cfg.Interface, err)
	}
	return []net.Interface{*iface}, nil
}

// TXT encodes info as key=value TXT strings. Empty values are omitted.
func TXT(info Info) []string {
	var txt []string
	for _, kv := range [][2]string{{"path", info.Path}, {"version", info.Version}, {"site", info.SiteID}} {
		if kv[1] != "" {
			txt = append(txt, kv[0]+"="+kv[1])
		}
	}
	return txt
}
