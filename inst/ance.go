package inst

import (
	"github.com/mycoria/tunstat/config"
	"github.com/mycoria/tunstat/frame"
)

// Ance (inst.Ance) is an interface to access global attributes of a tunstat instance.
type Ance interface {
	Version() string
	Config() *config.Config
	FrameBuilder() *frame.Builder
}

// AnceStub (inst.AnceStub) is a stub to easily create an inst.Ance.
type AnceStub struct {
	VersionStub      string
	ConfigStub       *config.Config
	FrameBuilderStub *frame.Builder
}

var _ Ance = &AnceStub{}

// Version returns the version.
func (stub *AnceStub) Version() string {
	return stub.VersionStub
}

// Config returns the config.
func (stub *AnceStub) Config() *config.Config {
	return stub.ConfigStub
}

// FrameBuilder returns the frame builder.
func (stub *AnceStub) FrameBuilder() *frame.Builder {
	return stub.FrameBuilderStub
}
