//go:build opencl

// Package opencl runs the per-slice compute stages on a real OpenCL device.
// It implements the same Backend contract as the default goroutine backend:
// each stage call reads its inputs from the shared host pools, dispatches the
// matching kernel, and writes its outputs back, so the host pools stay the
// single source of truth between stages.
package opencl

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"

	"github.com/distortions81/rld/device"
)

// Backend owns one OpenCL context, queue, and the device buffers mirroring
// the host pools. Buffers are sized on first use and reallocated if the pool
// dimensions change.
type Backend struct {
	context *cl.Context
	queue   *cl.CommandQueue
	program *cl.Program

	prospectKernel *cl.Kernel
	drawKernel     *cl.Kernel
	outlineKernel  *cl.Kernel
	moveKernel     *cl.Kernel

	covBuf        *cl.MemObject
	normBuf       *cl.MemObject
	geoBuf        *cl.MemObject
	geoIndexAtBuf *cl.MemObject
	airBuf        *cl.MemObject
	aliveBuf      *cl.MemObject
	airGeoBuf     *cl.MemObject
	flagBuf       *cl.MemObject
	carriedBuf    *cl.MemObject
	countsBuf     *cl.MemObject
	forcesBuf     *cl.MemObject

	n      int
	maxGeo int
	maxAir int
	cov    []int32
	norms  []float32
	alive  []int32
	counts []int32
	forces []float32

	deviceName string
}

const (
	geoPixelBytes = 32
	airPixelBytes = 32
	airGeoBytes   = 16
	intBytes      = 4
	floatBytes    = 4
)

// NewBackend locates an OpenCL device (GPU preferred, CPU fallback), builds
// the stage kernels, and returns a ready Backend.
func NewBackend() (*Backend, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		msg := "querying OpenCL platforms"
		if strings.Contains(err.Error(), "-1001") {
			msg += ": no ICD loader reported any platforms; install OpenCL drivers and verify with `clinfo`"
		}
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	if len(platforms) == 0 {
		return nil, errors.New("no OpenCL platforms available; ensure a vendor driver is installed and detected by `clinfo`")
	}
	var dev *cl.Device
	for _, p := range platforms {
		devices, derr := p.GetDevices(cl.DeviceTypeGPU)
		if derr != nil && derr != cl.ErrDeviceNotFound {
			continue
		}
		if len(devices) > 0 {
			dev = devices[0]
			break
		}
	}
	if dev == nil {
		for _, p := range platforms {
			devices, derr := p.GetDevices(cl.DeviceTypeCPU)
			if derr != nil && derr != cl.ErrDeviceNotFound {
				continue
			}
			if len(devices) > 0 {
				dev = devices[0]
				break
			}
		}
	}
	if dev == nil {
		return nil, errors.New("no suitable OpenCL devices found")
	}

	context, err := cl.CreateContext([]*cl.Device{dev})
	if err != nil {
		return nil, fmt.Errorf("creating OpenCL context: %w", err)
	}
	queue, err := context.CreateCommandQueue(dev, 0)
	if err != nil {
		context.Release()
		return nil, fmt.Errorf("creating OpenCL command queue: %w", err)
	}
	program, err := context.CreateProgramWithSource([]string{simKernelSource})
	if err != nil {
		queue.Release()
		context.Release()
		return nil, fmt.Errorf("creating OpenCL program: %w", err)
	}
	if err := program.BuildProgram([]*cl.Device{dev}, ""); err != nil {
		program.Release()
		queue.Release()
		context.Release()
		if buildErr, ok := err.(cl.BuildError); ok {
			return nil, fmt.Errorf("building OpenCL program: %s", string(buildErr))
		}
		return nil, fmt.Errorf("building OpenCL program: %w", err)
	}

	b := &Backend{
		context:    context,
		queue:      queue,
		program:    program,
		deviceName: dev.Name(),
	}
	for _, k := range []struct {
		name string
		dst  **cl.Kernel
	}{
		{"sim_prospect", &b.prospectKernel},
		{"sim_draw", &b.drawKernel},
		{"sim_outline", &b.outlineKernel},
		{"sim_move", &b.moveKernel},
	} {
		kernel, kerr := program.CreateKernel(k.name)
		if kerr != nil {
			b.Close()
			return nil, fmt.Errorf("creating %s kernel: %w", k.name, kerr)
		}
		*k.dst = kernel
	}
	return b, nil
}

func (b *Backend) Name() string { return "opencl" }

// DeviceName identifies the selected OpenCL device for logging.
func (b *Backend) DeviceName() string { return b.deviceName }

// ensure sizes the device buffers and host scratch to match p, reallocating
// when the pool dimensions change.
func (b *Backend) ensure(p *device.Pools) error {
	maxGeo := len(p.Geo)
	maxAir := len(p.Air[0])
	if b.n == p.N && b.maxGeo == maxGeo && b.maxAir == maxAir {
		return nil
	}
	b.releaseBuffers()
	b.n = p.N
	b.maxGeo = maxGeo
	b.maxAir = maxAir
	texels := p.N * p.N
	allocs := []struct {
		dst   **cl.MemObject
		flags cl.MemFlag
		size  int
		label string
	}{
		{&b.covBuf, cl.MemReadOnly, texels * intBytes, "coverage"},
		{&b.normBuf, cl.MemReadOnly, texels * 4 * floatBytes, "normals"},
		{&b.geoBuf, cl.MemReadWrite, maxGeo * geoPixelBytes, "geo pixels"},
		{&b.geoIndexAtBuf, cl.MemReadWrite, texels * intBytes, "geo index"},
		{&b.airBuf, cl.MemReadWrite, 2 * maxAir * airPixelBytes, "air pixels"},
		{&b.aliveBuf, cl.MemReadWrite, 2 * maxAir * intBytes, "alive flags"},
		{&b.airGeoBuf, cl.MemReadWrite, maxAir * airGeoBytes, "air-geo map"},
		{&b.flagBuf, cl.MemReadWrite, texels * intBytes, "flag grid"},
		{&b.carriedBuf, cl.MemReadWrite, maxAir * intBytes, "carry table"},
		{&b.countsBuf, cl.MemReadWrite, 3 * intBytes, "counts"},
		{&b.forcesBuf, cl.MemReadWrite, 12 * floatBytes, "forces"},
	}
	for _, a := range allocs {
		buf, err := b.context.CreateEmptyBuffer(a.flags, a.size)
		if err != nil {
			b.releaseBuffers()
			return fmt.Errorf("allocating %s buffer: %w", a.label, err)
		}
		*a.dst = buf
	}
	b.cov = make([]int32, texels)
	b.norms = make([]float32, texels*4)
	b.alive = make([]int32, 2*maxAir)
	b.counts = make([]int32, 3)
	b.forces = make([]float32, 12)
	return nil
}

func (b *Backend) writeInts(buf *cl.MemObject, data []int32, label string) error {
	if len(data) == 0 {
		return nil
	}
	ptr := unsafe.Pointer(&data[0])
	if _, err := b.queue.EnqueueWriteBuffer(buf, false, 0, len(data)*intBytes, ptr, nil); err != nil {
		return fmt.Errorf("writing %s: %w", label, err)
	}
	return nil
}

func (b *Backend) readInts(buf *cl.MemObject, data []int32, label string) error {
	if len(data) == 0 {
		return nil
	}
	ptr := unsafe.Pointer(&data[0])
	if _, err := b.queue.EnqueueReadBuffer(buf, true, 0, len(data)*intBytes, ptr, nil); err != nil {
		return fmt.Errorf("reading %s: %w", label, err)
	}
	return nil
}

func (b *Backend) writeRaw(buf *cl.MemObject, ptr unsafe.Pointer, byteLen int, label string) error {
	if byteLen == 0 {
		return nil
	}
	if _, err := b.queue.EnqueueWriteBuffer(buf, false, 0, byteLen, ptr, nil); err != nil {
		return fmt.Errorf("writing %s: %w", label, err)
	}
	return nil
}

func (b *Backend) readRaw(buf *cl.MemObject, ptr unsafe.Pointer, byteLen int, label string) error {
	if byteLen == 0 {
		return nil
	}
	if _, err := b.queue.EnqueueReadBuffer(buf, true, 0, byteLen, ptr, nil); err != nil {
		return fmt.Errorf("reading %s: %w", label, err)
	}
	return nil
}

func (b *Backend) uploadCounts(p *device.Pools) error {
	b.counts[0] = p.Mutables.GeoCount
	b.counts[1] = p.Mutables.AirCount[0]
	b.counts[2] = p.Mutables.AirCount[1]
	return b.writeInts(b.countsBuf, b.counts, "counts")
}

func (b *Backend) downloadCounts(p *device.Pools) error {
	if err := b.readInts(b.countsBuf, b.counts, "counts"); err != nil {
		return err
	}
	p.Mutables.GeoCount = b.counts[0]
	p.Mutables.AirCount[0] = b.counts[1]
	p.Mutables.AirCount[1] = b.counts[2]
	p.ClampCounts()
	return nil
}

func (b *Backend) uploadAir(p *device.Pools) error {
	for buf := 0; buf < 2; buf++ {
		base := buf * b.maxAir
		for i, a := range p.Alive[buf] {
			if a {
				b.alive[base+i] = 1
			} else {
				b.alive[base+i] = 0
			}
		}
		off := base * airPixelBytes
		ptr := unsafe.Pointer(&p.Air[buf][0])
		if _, err := b.queue.EnqueueWriteBuffer(b.airBuf, false, off, b.maxAir*airPixelBytes, ptr, nil); err != nil {
			return fmt.Errorf("writing air buffer %d: %w", buf, err)
		}
	}
	if err := b.writeInts(b.aliveBuf, b.alive, "alive flags"); err != nil {
		return err
	}
	return b.writeRaw(b.airGeoBuf, unsafe.Pointer(&p.AirGeo[0]), b.maxAir*airGeoBytes, "air-geo map")
}

func (b *Backend) downloadAir(p *device.Pools) error {
	for buf := 0; buf < 2; buf++ {
		off := buf * b.maxAir * airPixelBytes
		ptr := unsafe.Pointer(&p.Air[buf][0])
		if _, err := b.queue.EnqueueReadBuffer(b.airBuf, true, off, b.maxAir*airPixelBytes, ptr, nil); err != nil {
			return fmt.Errorf("reading air buffer %d: %w", buf, err)
		}
	}
	if err := b.readInts(b.aliveBuf, b.alive, "alive flags"); err != nil {
		return err
	}
	for buf := 0; buf < 2; buf++ {
		base := buf * b.maxAir
		for i := range p.Alive[buf] {
			p.Alive[buf][i] = b.alive[base+i] != 0
		}
	}
	return b.readRaw(b.airGeoBuf, unsafe.Pointer(&p.AirGeo[0]), b.maxAir*airGeoBytes, "air-geo map")
}

func (b *Backend) uploadFrame(p *device.Pools, frame *device.Frame) error {
	for i := range frame.Texels {
		t := &frame.Texels[i]
		if t.Covered {
			b.cov[i] = 1
		} else {
			b.cov[i] = 0
		}
		b.norms[i*4] = t.Normal[0]
		b.norms[i*4+1] = t.Normal[1]
		b.norms[i*4+2] = t.Normal[2]
		b.norms[i*4+3] = t.Normal[3]
	}
	if err := b.writeInts(b.covBuf, b.cov, "coverage"); err != nil {
		return err
	}
	if _, err := b.queue.EnqueueWriteBufferFloat32(b.normBuf, false, 0, b.norms, nil); err != nil {
		return fmt.Errorf("writing normals: %w", err)
	}
	return nil
}

// Prospect scans the uploaded frame on the device and downloads the resulting
// GeoPixels and reverse texel index.
func (b *Backend) Prospect(p *device.Pools, frame *device.Frame) error {
	if err := b.ensure(p); err != nil {
		return err
	}
	if err := b.uploadFrame(p, frame); err != nil {
		return err
	}
	if err := b.writeInts(b.geoIndexAtBuf, p.GeoIndexAt, "geo index"); err != nil {
		return err
	}
	if err := b.uploadCounts(p); err != nil {
		return err
	}
	if err := b.prospectKernel.SetArgs(
		int32(b.n),
		int32(b.maxGeo),
		p.Constants.WindframeSize,
		b.covBuf,
		b.normBuf,
		b.geoBuf,
		b.geoIndexAtBuf,
		b.countsBuf,
	); err != nil {
		return fmt.Errorf("setting prospect arguments: %w", err)
	}
	if _, err := b.queue.EnqueueNDRangeKernel(b.prospectKernel, nil, []int{b.n * b.n}, nil, nil); err != nil {
		return fmt.Errorf("enqueueing prospect kernel: %w", err)
	}
	if err := b.downloadCounts(p); err != nil {
		return err
	}
	geoCount := int(p.Mutables.GeoCount)
	if geoCount > 0 {
		if err := b.readRaw(b.geoBuf, unsafe.Pointer(&p.Geo[0]), geoCount*geoPixelBytes, "geo pixels"); err != nil {
			return err
		}
	}
	return b.readInts(b.geoIndexAtBuf, p.GeoIndexAt, "geo index")
}

// Draw splats the read buffer's parcels into the flag grid on the device and
// downloads the grid, carry table, and any parcels carried forward.
func (b *Backend) Draw(p *device.Pools, frame *device.Frame) error {
	if err := b.ensure(p); err != nil {
		return err
	}
	swap := int(p.Constants.Swap)
	readCount := int(p.Mutables.AirCount[1-swap])
	if readCount == 0 {
		return nil
	}
	if err := b.uploadFrame(p, frame); err != nil {
		return err
	}
	if err := b.writeInts(b.geoIndexAtBuf, p.GeoIndexAt, "geo index"); err != nil {
		return err
	}
	if err := b.uploadAir(p); err != nil {
		return err
	}
	if err := b.writeInts(b.flagBuf, p.Flag, "flag grid"); err != nil {
		return err
	}
	if err := b.writeInts(b.carriedBuf, p.Carried, "carry table"); err != nil {
		return err
	}
	if err := b.uploadCounts(p); err != nil {
		return err
	}
	if err := b.drawKernel.SetArgs(
		int32(b.n),
		int32(b.maxAir),
		int32(swap),
		p.Constants.WindframeSize,
		int32(readCount),
		b.covBuf,
		b.geoIndexAtBuf,
		b.airBuf,
		b.aliveBuf,
		b.airGeoBuf,
		b.flagBuf,
		b.carriedBuf,
		b.countsBuf,
	); err != nil {
		return fmt.Errorf("setting draw arguments: %w", err)
	}
	if _, err := b.queue.EnqueueNDRangeKernel(b.drawKernel, nil, []int{readCount}, nil, nil); err != nil {
		return fmt.Errorf("enqueueing draw kernel: %w", err)
	}
	if err := b.readInts(b.flagBuf, p.Flag, "flag grid"); err != nil {
		return err
	}
	if err := b.readInts(b.carriedBuf, p.Carried, "carry table"); err != nil {
		return err
	}
	if err := b.downloadAir(p); err != nil {
		return err
	}
	return b.downloadCounts(p)
}

// Outline associates flagged neighbors with each GeoPixel on the device,
// spawning fresh parcels at bare stretches of the outline.
func (b *Backend) Outline(p *device.Pools, frame *device.Frame) error {
	if err := b.ensure(p); err != nil {
		return err
	}
	geoCount := int(p.Mutables.GeoCount)
	if geoCount == 0 {
		return nil
	}
	swap := int(p.Constants.Swap)
	if err := b.writeRaw(b.geoBuf, unsafe.Pointer(&p.Geo[0]), geoCount*geoPixelBytes, "geo pixels"); err != nil {
		return err
	}
	if err := b.uploadAir(p); err != nil {
		return err
	}
	if err := b.writeInts(b.flagBuf, p.Flag, "flag grid"); err != nil {
		return err
	}
	if err := b.writeInts(b.carriedBuf, p.Carried, "carry table"); err != nil {
		return err
	}
	if err := b.uploadCounts(p); err != nil {
		return err
	}
	if err := b.outlineKernel.SetArgs(
		int32(b.n),
		int32(b.maxAir),
		int32(swap),
		p.Constants.WindSpeed,
		int32(geoCount),
		b.geoBuf,
		b.airBuf,
		b.aliveBuf,
		b.airGeoBuf,
		b.flagBuf,
		b.carriedBuf,
		b.countsBuf,
	); err != nil {
		return fmt.Errorf("setting outline arguments: %w", err)
	}
	if _, err := b.queue.EnqueueNDRangeKernel(b.outlineKernel, nil, []int{geoCount}, nil, nil); err != nil {
		return fmt.Errorf("enqueueing outline kernel: %w", err)
	}
	if err := b.readInts(b.flagBuf, p.Flag, "flag grid"); err != nil {
		return err
	}
	if err := b.readInts(b.carriedBuf, p.Carried, "carry table"); err != nil {
		return err
	}
	if err := b.downloadAir(p); err != nil {
		return err
	}
	return b.downloadCounts(p)
}

// Move advects the write buffer's parcels on the device, accumulating forces
// with compare-and-swap float adds, then downloads survivors and totals.
func (b *Backend) Move(p *device.Pools) error {
	if err := b.ensure(p); err != nil {
		return err
	}
	swap := int(p.Constants.Swap)
	writeCount := int(p.Mutables.AirCount[swap])
	if writeCount > b.maxAir {
		writeCount = b.maxAir
	}
	if writeCount == 0 {
		return nil
	}
	geoCount := int(p.Mutables.GeoCount)
	if geoCount > 0 {
		if err := b.writeRaw(b.geoBuf, unsafe.Pointer(&p.Geo[0]), geoCount*geoPixelBytes, "geo pixels"); err != nil {
			return err
		}
	}
	if err := b.uploadAir(p); err != nil {
		return err
	}
	for i := range b.forces {
		b.forces[i] = 0
	}
	b.forces[0], b.forces[1], b.forces[2] = p.Mutables.Lift[0], p.Mutables.Lift[1], p.Mutables.Lift[2]
	b.forces[4], b.forces[5], b.forces[6] = p.Mutables.Drag[0], p.Mutables.Drag[1], p.Mutables.Drag[2]
	b.forces[8], b.forces[9], b.forces[10] = p.Mutables.Torque[0], p.Mutables.Torque[1], p.Mutables.Torque[2]
	if _, err := b.queue.EnqueueWriteBufferFloat32(b.forcesBuf, false, 0, b.forces, nil); err != nil {
		return fmt.Errorf("writing forces: %w", err)
	}
	if err := b.moveKernel.SetArgs(
		int32(b.maxAir),
		int32(swap),
		p.Constants.WindframeSize,
		p.Constants.Dt,
		p.Constants.SliceZ,
		p.Coeffs.LiftC,
		p.Coeffs.DragC,
		int32(writeCount),
		b.geoBuf,
		b.airBuf,
		b.aliveBuf,
		b.airGeoBuf,
		b.forcesBuf,
	); err != nil {
		return fmt.Errorf("setting move arguments: %w", err)
	}
	if _, err := b.queue.EnqueueNDRangeKernel(b.moveKernel, nil, []int{writeCount}, nil, nil); err != nil {
		return fmt.Errorf("enqueueing move kernel: %w", err)
	}
	if err := b.downloadAir(p); err != nil {
		return err
	}
	if _, err := b.queue.EnqueueReadBufferFloat32(b.forcesBuf, true, 0, b.forces, nil); err != nil {
		return fmt.Errorf("reading forces: %w", err)
	}
	p.Mutables.Lift[0], p.Mutables.Lift[1], p.Mutables.Lift[2] = b.forces[0], b.forces[1], b.forces[2]
	p.Mutables.Drag[0], p.Mutables.Drag[1], p.Mutables.Drag[2] = b.forces[4], b.forces[5], b.forces[6]
	p.Mutables.Torque[0], p.Mutables.Torque[1], p.Mutables.Torque[2] = b.forces[8], b.forces[9], b.forces[10]
	return nil
}

func (b *Backend) releaseBuffers() {
	for _, buf := range []**cl.MemObject{
		&b.covBuf, &b.normBuf, &b.geoBuf, &b.geoIndexAtBuf, &b.airBuf,
		&b.aliveBuf, &b.airGeoBuf, &b.flagBuf, &b.carriedBuf, &b.countsBuf,
		&b.forcesBuf,
	} {
		if *buf != nil {
			(*buf).Release()
			*buf = nil
		}
	}
	b.n, b.maxGeo, b.maxAir = 0, 0, 0
}

// Close releases every device resource. The Backend must not be used
// afterwards.
func (b *Backend) Close() error {
	b.releaseBuffers()
	for _, k := range []**cl.Kernel{
		&b.prospectKernel, &b.drawKernel, &b.outlineKernel, &b.moveKernel,
	} {
		if *k != nil {
			(*k).Release()
			*k = nil
		}
	}
	if b.program != nil {
		b.program.Release()
		b.program = nil
	}
	if b.queue != nil {
		b.queue.Release()
		b.queue = nil
	}
	if b.context != nil {
		b.context.Release()
		b.context = nil
	}
	return nil
}
