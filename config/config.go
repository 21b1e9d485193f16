// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package config loads the settings that control how a client locates and
// connects to its server.
//
// Settings are read from a YAML or JSON document with every key nested under
// a top level XmppConfiguration key:
//
//	XmppConfiguration:
//	  DefaultPort: 5222
//	  UseIPv6: true
//	  DnsServers: ["192.0.2.53", "2001:db8::53"]
//	  UseSSL: false
//
// Keys that are absent take the defaults documented on Config.
// Keys that are present but malformed are reported by Validate.
package config // import "mellium.im/c2s/config"

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values used in place of absent keys.
const (
	DefaultPort            = 5222
	DefaultReadTimeout     = 5 * time.Second
	DefaultConnectAttempts = 3

	// MaxDNSServers is the largest number of DNS servers that may be
	// configured.
	MaxDNSServers = 4
)

// ErrInvalid is wrapped by all validation errors.
var ErrInvalid = errors.New("config: invalid configuration")

// Config represents the configuration of a client connection.
type Config struct {
	// DefaultPort is used for literal IP addresses and whenever no SRV record
	// supplies a port. Zero means DefaultPort (5222).
	DefaultPort int `yaml:"DefaultPort"`

	// UseIPv6 allows AAAA lookups and IPv6 sockets if the platform supports
	// them. False (the default) restricts resolution to A records.
	UseIPv6 bool `yaml:"UseIPv6"`

	// DNSServers are the addresses of up to four recursive resolvers queried
	// over TCP on port 53, in order. When empty the system resolver is used.
	DNSServers []string `yaml:"DnsServers"`

	// UseSSL reports whether the stream should be upgraded to an encrypted
	// transport. False by default.
	UseSSL bool `yaml:"UseSSL"`

	// ReadTimeout bounds each read from the server. Zero means
	// DefaultReadTimeout (5s).
	ReadTimeout time.Duration `yaml:"ReadTimeout"`

	// ConnectAttempts is the number of connection attempts a Client makes
	// before giving up. Zero means DefaultConnectAttempts (3).
	ConnectAttempts int `yaml:"ConnectAttempts"`
}

type document struct {
	XMPP Config `yaml:"XmppConfiguration"`
}

// Load reads a configuration document from r and validates it.
func Load(r io.Reader) (Config, error) {
	var doc document
	err := yaml.NewDecoder(r).Decode(&doc)
	switch {
	case errors.Is(err, io.EOF):
		// An empty document leaves every key absent.
	case err != nil:
		return Config{}, fmt.Errorf("config: decoding document: %w", err)
	}
	if err := doc.XMPP.Validate(); err != nil {
		return Config{}, err
	}
	return doc.XMPP, nil
}

// LoadFile reads and validates the configuration document at path.
func LoadFile(path string) (Config, error) {
	/* #nosec */
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	/* #nosec */
	defer f.Close()
	return Load(f)
}

// Validate reports malformed values.
// Absent values are never an error.
func (c Config) Validate() error {
	if c.DefaultPort < 0 || c.DefaultPort > 65535 {
		return fmt.Errorf("%w: DefaultPort %d out of range", ErrInvalid, c.DefaultPort)
	}
	if len(c.DNSServers) > MaxDNSServers {
		return fmt.Errorf("%w: %d DnsServers configured, at most %d allowed", ErrInvalid, len(c.DNSServers), MaxDNSServers)
	}
	for _, s := range c.DNSServers {
		if _, err := netip.ParseAddr(s); err != nil {
			return fmt.Errorf("%w: DnsServers: %v", ErrInvalid, err)
		}
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("%w: negative ReadTimeout %s", ErrInvalid, c.ReadTimeout)
	}
	if c.ConnectAttempts < 0 {
		return fmt.Errorf("%w: negative ConnectAttempts %d", ErrInvalid, c.ConnectAttempts)
	}
	return nil
}

// Port returns the configured default port or DefaultPort.
func (c Config) Port() uint16 {
	if c.DefaultPort == 0 {
		return DefaultPort
	}
	return uint16(c.DefaultPort)
}

// Timeout returns the configured read timeout or DefaultReadTimeout.
func (c Config) Timeout() time.Duration {
	if c.ReadTimeout == 0 {
		return DefaultReadTimeout
	}
	return c.ReadTimeout
}

// Attempts returns the configured number of connection attempts or
// DefaultConnectAttempts.
func (c Config) Attempts() int {
	if c.ConnectAttempts == 0 {
		return DefaultConnectAttempts
	}
	return c.ConnectAttempts
}

// Resolvers parses the configured DNS servers.
// Invalid entries are skipped; call Validate to detect them.
func (c Config) Resolvers() []netip.Addr {
	addrs := make([]netip.Addr, 0, len(c.DNSServers))
	for _, s := range c.DNSServers {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs
}
