package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycoria/tunstat/frame"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	c, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, DefaultTunMTU, c.TunMTU())
	assert.Equal(t, DefaultTunAddress, c.TunAddress)
	assert.Equal(t, uint64(DefaultEndAfter), c.Session.EndAfter)
	assert.Equal(t, frame.DefaultMarkerOffset, c.Session.MarkerOffset)
	assert.Equal(t, RecordNone, c.RecordFormat)
	assert.Equal(t, DefaultTunMTU-48, c.MaxPayloadSize())

	require.Len(t, c.Counters, 3)
	assert.Equal(t, Counter{Name: "1s", Window: time.Second, Primary: true}, c.Counters[0])
	assert.Equal(t, Counter{Name: "3s", Window: 3 * time.Second, Primary: true, Integrity: true}, c.Counters[1])
	assert.Equal(t, Counter{Name: "all", Window: UnboundedWindow, Primary: true, Silent: true, Final: true}, c.Counters[2])
}

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tunstat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
system:
  tunName: bench0
  tunMTU: 9000
session:
  endAfter: 1000
  capacity: 2000
counters:
  - name: fast
    window: 500ms
report:
  record: /tmp/stats.cbor
metrics:
  listen: 127.0.0.1:9342
`), 0o600))

	c, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "bench0", c.System.TunName)
	assert.Equal(t, 9000, c.TunMTU())
	assert.Equal(t, uint64(1000), c.Session.EndAfter)
	assert.Equal(t, 2000, c.Session.Capacity)
	assert.Equal(t, frame.DefaultMarkerOffset, c.Session.MarkerOffset, "missing fields keep defaults")
	require.Len(t, c.Counters, 1)
	assert.Equal(t, 500*time.Millisecond, c.Counters[0].Window)
	assert.Equal(t, RecordCBOR, c.RecordFormat)
	assert.Equal(t, "127.0.0.1:9342", c.Metrics.Listen)
}

func TestInvalidConfig(t *testing.T) {
	t.Parallel()

	for name, modify := range map[string]func(s *Store){
		"capacity below end":   func(s *Store) { s.Session.Capacity = int(s.Session.EndAfter) - 1 },
		"no end":               func(s *Store) { s.Session.EndAfter = 0 },
		"tun name":             func(s *Store) { s.System.TunName = "tun-0" },
		"tun mtu":              func(s *Store) { s.System.TunMTU = 576 },
		"tun address":          func(s *Store) { s.System.TunAddress = "10.0.0.1/8" },
		"marker offset":        func(s *Store) { s.Session.MarkerOffset = 1 },
		"no counters":          func(s *Store) { s.Counters = nil },
		"counter without name": func(s *Store) { s.Counters[0].Name = "" },
		"duplicate counter":    func(s *Store) { s.Counters[1].Name = s.Counters[0].Name },
		"counter window":       func(s *Store) { s.Counters[0].Window = "soon" },
		"negative window":      func(s *Store) { s.Counters[0].Window = "-1s" },
		"record type":          func(s *Store) { s.Report.Record = "stats.csv" },
		"dump frames":          func(s *Store) { s.Report.DumpFrames = -1 },
		"metrics listen":       func(s *Store) { s.Metrics.Listen = "9342" },
	} {
		s, err := DefaultStore().Clone()
		require.NoError(t, err)
		modify(&s)
		_, err = s.Parse()
		assert.Error(t, err, name)
	}
}

func TestStoreClone(t *testing.T) {
	t.Parallel()

	s := DefaultStore()
	cloned, err := s.Clone()
	require.NoError(t, err)
	cloned.Counters[0].Name = "changed"
	assert.Equal(t, "1s", s.Counters[0].Name, "clone must not share counters")
}
