// Package discovery advertises a running relay on the local network via
// mDNS so desktop clients can find it without manual configuration. The
// relay only broadcasts; clients do the browsing.
package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_cipherchat._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)

// Config controls mDNS broadcast behavior.
type Config struct {
	Service string
	Domain  string
	Version int

	// ServerID uniquely identifies this relay instance.
	ServerID string
	// ServerName is the human-readable instance name shown in browsers.
	ServerName string
	// GatewayPort is the TCP port the relay gateway listens on.
	GatewayPort int

	registerFn registerFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

func (c Config) validate() error {
	if strings.TrimSpace(c.ServerID) == "" {
		return errors.New("server ID is required")
	}
	if strings.TrimSpace(c.ServerName) == "" {
		return errors.New("server name is required")
	}
	if c.GatewayPort <= 0 {
		return errors.New("gateway port must be > 0")
	}
	return nil
}

// Broadcaster advertises the relay via mDNS.
type Broadcaster struct {
	server *zeroconf.Server
}

// StartBroadcaster registers and starts the mDNS broadcast.
func StartBroadcaster(config Config) (*Broadcaster, error) {
	cfg := config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	txt := []string{
		"server_id=" + cfg.ServerID,
		"version=" + strconv.Itoa(cfg.Version),
	}

	server, err := cfg.registerFn(cfg.ServerName, cfg.Service, cfg.Domain, cfg.GatewayPort, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	return &Broadcaster{server: server}, nil
}

// Stop stops mDNS broadcasting.
func (b *Broadcaster) Stop() {
	if b == nil || b.server == nil {
		return
	}
	b.server.Shutdown()
}
