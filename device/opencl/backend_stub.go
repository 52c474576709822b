//go:build !opencl

package opencl

import (
	"errors"

	"github.com/distortions81/rld/device"
)

type Backend struct{}

func NewBackend() (*Backend, error) {
	return nil, errors.New("OpenCL support is not enabled; rebuild with -tags opencl")
}

func (b *Backend) Prospect(p *device.Pools, frame *device.Frame) error {
	return errors.New("OpenCL backend unavailable")
}

func (b *Backend) Draw(p *device.Pools, frame *device.Frame) error {
	return errors.New("OpenCL backend unavailable")
}

func (b *Backend) Outline(p *device.Pools, frame *device.Frame) error {
	return errors.New("OpenCL backend unavailable")
}

func (b *Backend) Move(p *device.Pools) error {
	return errors.New("OpenCL backend unavailable")
}

func (b *Backend) Close() error { return nil }

func (b *Backend) Name() string { return "opencl" }

func (b *Backend) DeviceName() string { return "" }
