package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mycoria/tunstat/frame"
)

// Config holds initialized configuration.
type Config struct {
	Store

	TunAddress   netip.Prefix
	Counters     []Counter
	RecordFormat RecordFormat

	tunMTU atomic.Int32

	started time.Time
}

// Counter is a parsed rate counter definition.
type Counter struct {
	Name      string
	Window    time.Duration
	Primary   bool
	Silent    bool
	Integrity bool
	Final     bool
}

// RecordFormat is the format of the snapshot record file.
type RecordFormat string

// Record formats.
const (
	RecordNone RecordFormat = ""
	RecordJSON RecordFormat = "json"
	RecordCBOR RecordFormat = "cbor"
)

var tunNameRegex = regexp.MustCompile(`^[A-z0-9]+$`)

// LoadConfig loads the config from the given yaml file.
// Fields missing in the file are set to their defaults.
// If no file is given, the default config is returned.
func LoadConfig(filePath string) (*Config, error) {
	s, err := LoadStore(filePath)
	if err != nil {
		return nil, err
	}
	return s.Parse()
}

// LoadStore loads the config store from the given yaml file.
// Fields missing in the file are set to their defaults.
func LoadStore(filePath string) (Store, error) {
	s := DefaultStore()
	if filePath == "" {
		return s, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return Store{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Store{}, fmt.Errorf("parse config file: %w", err)
	}
	return s, nil
}

// Parse parses a config definition and return an initialized config.
func (s Store) Parse() (*Config, error) {
	return s.parse(false)
}

// MakeTestConfig parses and returns the given config store with loosened checks.
// If anything fails, it panics.
func MakeTestConfig(s Store) *Config {
	c, err := s.parse(true)
	if err != nil {
		panic("test config invalid: " + err.Error())
	}
	return c
}

func (s Store) parse(test bool) (*Config, error) {
	c := &Config{
		Store:   s,
		started: time.Now(),
	}
	c.SetTunMTU(DefaultTunMTU)

	// System.
	if c.System.TunName != "" &&
		!tunNameRegex.MatchString(c.System.TunName) {
		return nil, fmt.Errorf("system.tunName %q is invalid - it may only contain A-z and 0-9", c.System.TunName)
	}
	if c.System.TunMTU != 0 {
		if c.System.TunMTU < MinTunMTU || c.System.TunMTU > MaxTunMTU {
			return nil, fmt.Errorf("system.tunMTU must be between %d and %d", MinTunMTU, MaxTunMTU)
		}
		c.SetTunMTU(c.System.TunMTU)
	}
	c.TunAddress = DefaultTunAddress
	if c.System.TunAddress != "" {
		prefix, err := netip.ParsePrefix(c.System.TunAddress)
		if err != nil {
			return nil, fmt.Errorf("system.tunAddress is invalid: %w", err)
		}
		if !prefix.Addr().Is6() {
			return nil, errors.New("system.tunAddress must be an IPv6 address")
		}
		c.TunAddress = prefix
	}

	// Session.
	if c.Session.EndAfter == 0 {
		return nil, errors.New("session.endAfter must be greater than zero")
	}
	if c.Session.Capacity <= 0 || uint64(c.Session.Capacity) < c.Session.EndAfter {
		return nil, fmt.Errorf(
			"session.capacity (%d) must be at least session.endAfter (%d)",
			c.Session.Capacity, c.Session.EndAfter,
		)
	}
	if c.Session.MarkerOffset < frame.PayloadPrefixSize {
		return nil, fmt.Errorf("session.markerOffset must be at least %d", frame.PayloadPrefixSize)
	}

	// Counters.
	if len(c.Store.Counters) == 0 && !test {
		return nil, errors.New("at least one counter must be configured")
	}
	c.Counters = make([]Counter, 0, len(c.Store.Counters))
	names := make(map[string]struct{}, len(c.Store.Counters))
	for i, cc := range c.Store.Counters {
		if cc.Name == "" {
			return nil, fmt.Errorf("counter #%d has no name", i+1)
		}
		if _, ok := names[cc.Name]; ok {
			return nil, fmt.Errorf("counter #%d: duplicate name %q", i+1, cc.Name)
		}
		names[cc.Name] = struct{}{}

		window := UnboundedWindow
		if cc.Window != "" && cc.Window != "0" {
			var err error
			window, err = time.ParseDuration(cc.Window)
			if err != nil {
				return nil, fmt.Errorf("counter %s (#%d): invalid window: %w", cc.Name, i+1, err)
			}
			if window <= 0 {
				return nil, fmt.Errorf("counter %s (#%d): window must be positive", cc.Name, i+1)
			}
		}

		c.Counters = append(c.Counters, Counter{
			Name:      cc.Name,
			Window:    window,
			Primary:   cc.Primary,
			Silent:    cc.Silent,
			Integrity: cc.Integrity,
			Final:     cc.Final,
		})
	}

	// Report.
	if c.Report.DumpFrames < 0 {
		return nil, errors.New("report.dumpFrames must not be negative")
	}
	if c.Report.Record != "" {
		switch {
		case strings.HasSuffix(c.Report.Record, ".json"),
			strings.HasSuffix(c.Report.Record, ".jsonl"):
			c.RecordFormat = RecordJSON
		case strings.HasSuffix(c.Report.Record, ".cbor"):
			c.RecordFormat = RecordCBOR
		default:
			return nil, fmt.Errorf("report.record %q has an unknown file type, use .json, .jsonl or .cbor", c.Report.Record)
		}
	}

	// Metrics.
	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return nil, fmt.Errorf("metrics.listen is invalid: %w", err)
		}
	}

	return c, nil
}

// Started returns the time when the config was created.
func (c *Config) Started() time.Time {
	return c.started
}

// Uptime returns the time since the config was created.
func (c *Config) Uptime() time.Duration {
	return time.Since(c.started)
}
