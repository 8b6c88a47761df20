package tunstat

import (
	"fmt"
	"io"
	"os"

	"github.com/mycoria/tunstat/config"
	"github.com/mycoria/tunstat/dashboard"
	"github.com/mycoria/tunstat/frame"
	"github.com/mycoria/tunstat/metrics"
	"github.com/mycoria/tunstat/mgr"
	"github.com/mycoria/tunstat/monitor"
	"github.com/mycoria/tunstat/replay"
	"github.com/mycoria/tunstat/tun"
)

// Instance is an instance of a tunstat measurement session.
type Instance struct {
	*mgr.Group

	version      string
	config       *config.Config
	frameBuilder *frame.Builder

	tunDevice     *tun.Device
	replayReader  *replay.Reader
	monitor       *monitor.Monitor
	metrics       *metrics.Metrics
	metricsServer *metrics.Server
	dashboard     *dashboard.Dashboard
}

// Options select where frames are read from and where reports go.
type Options struct {
	// ReplayFile replays frames from a capture file instead of reading
	// them from a tun device.
	ReplayFile string

	// Out receives the reports. Defaults to stdout.
	Out io.Writer
}

// New returns a new tunstat instance.
func New(version string, c *config.Config, opts Options) (*Instance, error) {
	// Create instance to pass it to modules.
	instance := &Instance{
		version:      version,
		config:       c,
		frameBuilder: frame.NewBuilder(),
		metrics:      metrics.New(),
	}

	// Create metrics server and dashboard.
	if c.Metrics.Listen != "" {
		instance.metricsServer = metrics.NewServer(instance.metrics, c.Metrics.Listen)
		d, err := dashboard.New(instance, instance.metricsServer)
		if err != nil {
			return nil, fmt.Errorf("create dashboard: %w", err)
		}
		instance.dashboard = d
	}

	// Create frame source.
	var source monitor.Source
	if opts.ReplayFile != "" {
		r, err := replay.New(instance, opts.ReplayFile)
		if err != nil {
			return nil, fmt.Errorf("open replay file: %w", err)
		}
		instance.replayReader = r
		source = r
	} else {
		d, err := tun.Create(instance)
		if err != nil {
			return nil, fmt.Errorf("create tun device: %w", err)
		}
		instance.tunDevice = d
		source = d
	}

	// Create monitor.
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	instance.monitor = monitor.New(instance, source, opts.Out, instance.metrics)

	// Add all modules to instance group.
	// The monitor must be ready before frames arrive.
	instance.Group = mgr.NewGroup(
		instance.dashboard,
		instance.metricsServer,
		instance.monitor,

		instance.tunDevice,
		instance.replayReader,
	)

	return instance, nil
}

// Version returns the version.
func (i *Instance) Version() string {
	return i.version
}

// Config returns the config.
func (i *Instance) Config() *config.Config {
	return i.config
}

// FrameBuilder returns the frame builder.
func (i *Instance) FrameBuilder() *frame.Builder {
	return i.frameBuilder
}

// Done returns a channel that is closed when the session ended.
func (i *Instance) Done() <-chan struct{} {
	return i.monitor.Done()
}

/////

// TunDevice returns the tun device.
// Nil when replaying.
func (i *Instance) TunDevice() *tun.Device {
	return i.tunDevice
}

// ReplayReader returns the replay reader.
// Nil when reading from a tun device.
func (i *Instance) ReplayReader() *replay.Reader {
	return i.replayReader
}

// Monitor returns the monitor.
func (i *Instance) Monitor() *monitor.Monitor {
	return i.monitor
}

// MetricsServer returns the metrics server.
// Nil if metrics are not served.
func (i *Instance) MetricsServer() *metrics.Server {
	return i.metricsServer
}

// Metrics returns the metrics.
func (i *Instance) Metrics() *metrics.Metrics {
	return i.metrics
}
