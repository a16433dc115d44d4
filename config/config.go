// Package config provides the meshcrypt configuration.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/TheusHen/meshcrypt/internal/log"
	"github.com/TheusHen/meshcrypt/meshcrypt/capture"
	"github.com/TheusHen/meshcrypt/meshcrypt/session"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
)

const (
	defaultLogLevel    = "NOTICE"
	defaultServer      = 1
	defaultListen      = "127.0.0.1:7400"
	defaultAckTimeout  = 2000 // 2 sec.
	defaultPollTimeout = 500  // 500 ms.
	defaultPolls       = 4
	defaultRegistryDB  = "registry.db"

	// BackendMemory keeps the registry in memory.
	BackendMemory = "memory"

	// BackendBolt keeps the registry in a bbolt file.
	BackendBolt = "bolt"
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	if _, err := log.LevelFromString(lCfg.Level); err != nil {
		return fmt.Errorf("config: Logging: %v", err)
	}
	lCfg.Level = strings.ToUpper(lCfg.Level)
	return nil
}

// Node is the mesh identity of this process.
type Node struct {
	// Address is the mesh address. Zero asks the link gateway for one.
	Address uint8

	// Server is the mesh address of the key server.
	Server uint8

	// IsServer makes this process the key server.
	IsServer bool

	// Seed, when set, is a hex encoded 32 byte seed for a deterministic key
	// source. It exists for reproducible simulations only.
	Seed string
}

func (nCfg *Node) applyDefaults() {
	if nCfg.Server == 0 {
		nCfg.Server = defaultServer
	}
}

func (nCfg *Node) validate() error {
	if nCfg.Address == uint8(transport.BroadcastAddress) || nCfg.Server == uint8(transport.BroadcastAddress) {
		return errors.New("config: Node: the broadcast address can not be assigned")
	}
	if nCfg.IsServer {
		if nCfg.Address == 0 {
			return errors.New("config: Node: a server needs a fixed Address")
		}
		if nCfg.Address != nCfg.Server {
			return fmt.Errorf("config: Node: server Address %d does not match Server %d", nCfg.Address, nCfg.Server)
		}
	}
	if nCfg.Seed != "" {
		if _, err := nCfg.SeedBytes(); err != nil {
			return err
		}
	}
	return nil
}

// SeedBytes decodes Seed.
func (nCfg *Node) SeedBytes() ([32]byte, error) {
	var seed [32]byte
	b, err := hex.DecodeString(nCfg.Seed)
	if err != nil || len(b) != len(seed) {
		return seed, errors.New("config: Node: Seed must be 64 hex digits")
	}
	copy(seed[:], b)
	return seed, nil
}

// Handshake tunes the bootstrap handshake. Durations are in milliseconds.
type Handshake struct {
	Polls       int
	PollTimeout int
	MaxAttempts int
	BaseDelay   int
	MaxDelay    int
	Jitter      float64
}

func (hCfg *Handshake) applyDefaults() {
	if hCfg.Polls == 0 {
		hCfg.Polls = defaultPolls
	}
	if hCfg.PollTimeout == 0 {
		hCfg.PollTimeout = defaultPollTimeout
	}
}

func (hCfg *Handshake) validate() error {
	switch {
	case hCfg.Polls < 0, hCfg.PollTimeout < 0, hCfg.MaxAttempts < 0, hCfg.BaseDelay < 0, hCfg.MaxDelay < 0:
		return errors.New("config: Handshake: values must not be negative")
	case hCfg.Jitter < 0 || hCfg.Jitter > 1:
		return errors.New("config: Handshake: Jitter must be within [0, 1]")
	case hCfg.MaxDelay != 0 && hCfg.MaxDelay < hCfg.BaseDelay:
		return errors.New("config: Handshake: MaxDelay is below BaseDelay")
	}
	return nil
}

// Policy returns the handshake retry policy.
func (hCfg *Handshake) Policy() session.Policy {
	return session.Policy{
		Polls:       hCfg.Polls,
		PollTimeout: time.Duration(hCfg.PollTimeout) * time.Millisecond,
		MaxAttempts: hCfg.MaxAttempts,
		BaseDelay:   time.Duration(hCfg.BaseDelay) * time.Millisecond,
		MaxDelay:    time.Duration(hCfg.MaxDelay) * time.Millisecond,
		Jitter:      hCfg.Jitter,
	}
}

// Route maps a mesh address to the host serving it.
type Route struct {
	Address uint8
	Host    string
}

// Link is the QUIC link configuration.
type Link struct {
	// Listen is the UDP address to bind.
	Listen string

	// Gateway is the host that hands out mesh addresses.
	Gateway string

	// AssignFrom makes this host hand out addresses starting here.
	AssignFrom uint8

	// AckTimeout is the per frame acknowledgement timeout in milliseconds.
	AckTimeout int

	// InboxSize bounds the number of undelivered frames.
	InboxSize int

	Routes []Route
}

func (lCfg *Link) applyDefaults() {
	if lCfg.Listen == "" {
		lCfg.Listen = defaultListen
	}
	if lCfg.AckTimeout == 0 {
		lCfg.AckTimeout = defaultAckTimeout
	}
}

func (lCfg *Link) validate() error {
	if _, _, err := net.SplitHostPort(lCfg.Listen); err != nil {
		return fmt.Errorf("config: Link: Listen '%v' is invalid: %v", lCfg.Listen, err)
	}
	if lCfg.Gateway != "" {
		if _, _, err := net.SplitHostPort(lCfg.Gateway); err != nil {
			return fmt.Errorf("config: Link: Gateway '%v' is invalid: %v", lCfg.Gateway, err)
		}
	}
	if lCfg.AckTimeout < 0 || lCfg.InboxSize < 0 {
		return errors.New("config: Link: values must not be negative")
	}
	seen := map[uint8]bool{}
	for _, r := range lCfg.Routes {
		if r.Address == 0 || r.Address == uint8(transport.BroadcastAddress) {
			return fmt.Errorf("config: Link: Route address %d is reserved", r.Address)
		}
		if seen[r.Address] {
			return fmt.Errorf("config: Link: duplicate Route for %d", r.Address)
		}
		seen[r.Address] = true
		if _, _, err := net.SplitHostPort(r.Host); err != nil {
			return fmt.Errorf("config: Link: Route %d host '%v' is invalid: %v", r.Address, r.Host, err)
		}
	}
	return nil
}

// RouteMap returns Routes keyed by mesh address.
func (lCfg *Link) RouteMap() map[transport.Address]string {
	m := make(map[transport.Address]string, len(lCfg.Routes))
	for _, r := range lCfg.Routes {
		m[transport.Address(r.Address)] = r.Host
	}
	return m
}

// Registry selects where the server keeps node key material.
type Registry struct {
	Backend string
	File    string
}

func (rCfg *Registry) applyDefaults() {
	if rCfg.Backend == "" {
		rCfg.Backend = BackendMemory
	}
	if rCfg.Backend == BackendBolt && rCfg.File == "" {
		rCfg.File = defaultRegistryDB
	}
}

func (rCfg *Registry) validate() error {
	switch rCfg.Backend {
	case BackendMemory, BackendBolt:
		return nil
	default:
		return fmt.Errorf("config: Registry: invalid Backend '%v'", rCfg.Backend)
	}
}

// Metrics configures the prometheus endpoint.
type Metrics struct {
	// Address is the listen address, metrics are disabled when empty.
	Address string
}

// Capture configures the frame capture.
type Capture struct {
	// File is the capture file, capture is disabled when empty.
	File string

	// Compression is one of fast, default or best.
	Compression string
}

func (cCfg *Capture) validate() error {
	_, err := cCfg.Level()
	return err
}

// Level returns the LZ4 compression level.
func (cCfg *Capture) Level() (capture.CompressionLevel, error) {
	switch strings.ToLower(cCfg.Compression) {
	case "fast":
		return capture.CompressionFast, nil
	case "", "default":
		return capture.CompressionDefault, nil
	case "best":
		return capture.CompressionBest, nil
	default:
		return capture.CompressionDefault, fmt.Errorf("config: Capture: invalid Compression '%v'", cCfg.Compression)
	}
}

// Config is the top level meshcrypt configuration.
type Config struct {
	Logging   *Logging
	Node      *Node
	Handshake *Handshake
	Link      *Link
	Registry  *Registry
	Metrics   *Metrics
	Capture   *Capture
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration. Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	// The Node section is mandatory, everything else is optional.
	if cfg.Node == nil {
		return errors.New("config: No Node block was present")
	}
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	if cfg.Handshake == nil {
		cfg.Handshake = &Handshake{}
	}
	if cfg.Link == nil {
		cfg.Link = &Link{}
	}
	if cfg.Registry == nil {
		cfg.Registry = &Registry{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &Metrics{}
	}
	if cfg.Capture == nil {
		cfg.Capture = &Capture{}
	}

	cfg.Node.applyDefaults()
	cfg.Handshake.applyDefaults()
	cfg.Link.applyDefaults()
	cfg.Registry.applyDefaults()

	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	if err := cfg.Node.validate(); err != nil {
		return err
	}
	if err := cfg.Handshake.validate(); err != nil {
		return err
	}
	if err := cfg.Link.validate(); err != nil {
		return err
	}
	if err := cfg.Registry.validate(); err != nil {
		return err
	}
	if err := cfg.Capture.validate(); err != nil {
		return err
	}
	if !cfg.Node.IsServer && cfg.Registry.Backend == BackendBolt {
		return errors.New("config: Registry block is only used by a server")
	}
	return nil
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("config: no nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
