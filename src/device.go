package tdc

/*------------------------------------------------------------------
 *
 * Purpose:	Drive the time-to-digital converter.
 *
 * Description:	The vendor library is process-global and indexed by an
 *		integer device id, up to eight devices.  Everything the
 *		toolkit needs from it sits behind the narrow Driver
 *		interface, so tests (and machines without the vendor
 *		library) run against StubDriver instead.
 *
 *		A Device owns one checked-out index.  Its life is
 *		strictly one-way:
 *
 *			new -> open -> acquiring ->
 *			    (completed | overrun | aborted) -> closed
 *
 *		Reopening is prohibited; to reconfigure, close and
 *		create a new Device.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Mode is the device acquisition mode.  Only T2 (free-running time
// tagging, no on-device histogramming) is supported.
type Mode int

const ModeT2 Mode = 2

// RefSource selects the timing reference.
type RefSource int

const RefInternalClock RefSource = 0

// FIFO-overrun bit in the device flags word.
const flagFifoFull = 0x0002

// Driver is the slice of the vendor library the toolkit consumes.
type Driver interface {
	OpenDevice(index int) error
	CloseDevice(index int) error
	Initialize(index int, mode Mode, ref RefSource) error
	GetNumberOfInputChannels(index int) (int, error)

	SetSyncDivider(index int, divider int) error
	SetSyncEdgeTrigger(index int, levelMV int, edge Edge) error
	SetSyncChannelOffset(index int, offsetPS int) error
	SetSyncChannelEnable(index int, enable bool) error
	SetInputEdgeTrigger(index int, channel int, levelMV int, edge Edge) error
	SetInputChannelOffset(index int, channel int, offsetPS int) error
	SetInputChannelEnable(index int, channel int, enable bool) error

	StartMeasurement(index int, durationMS int) error
	StopMeasurement(index int) error
	ReadFIFO(index int) (int, []uint32, error)
	GetFlags(index int) (int, error)
	CTCStatus(index int) (int, error)
}

// The vendor library allows one handle per index.  This registry
// enforces that within the process.
const maxDevices = 8

var deviceRegistry struct {
	mu    sync.Mutex
	inUse [maxDevices]bool
}

func checkoutDevice(index int) error {
	deviceRegistry.mu.Lock()
	defer deviceRegistry.mu.Unlock()
	if index < 0 || index >= maxDevices {
		return fmt.Errorf("%w: device index %d out of range 0..%d", ErrInvalidState, index, maxDevices-1)
	}
	if deviceRegistry.inUse[index] {
		return fmt.Errorf("%w: device %d is already checked out", ErrInvalidState, index)
	}
	deviceRegistry.inUse[index] = true
	return nil
}

func releaseDevice(index int) {
	deviceRegistry.mu.Lock()
	defer deviceRegistry.mu.Unlock()
	deviceRegistry.inUse[index] = false
}

// Sample code notes that after Init or SetSyncDiv you must allow
// >100 ms for valid count rate readings.
var configSettleDelay = 200 * time.Millisecond

type deviceState int

const (
	stateOpen deviceState = iota
	stateAcquiring
	stateCompleted
	stateOverrun
	stateAborted
	stateClosed
)

// Device is one open, configured TDC handle.
type Device struct {
	drv    Driver
	index  int
	config DeviceConfig

	mu    sync.Mutex
	state deviceState
}

/*-------------------------------------------------------------------
 *
 * Name:	OpenDevice
 *
 * Purpose:	Check out a device index, open and initialize the
 *		hardware in T2 mode on the internal clock, and apply
 *		the configuration.
 *
 * Inputs:	drv	- Vendor driver (or a stub).
 *		index	- Device index, 0..7.
 *		config	- Immutable for the life of the handle.  The
 *			  length of config.Inputs must match the
 *			  channel count the hardware reports.
 *
 * Returns:	The open device, or ErrInvalidState when the index is
 *		taken or the channel counts disagree.
 *
 *--------------------------------------------------------------------*/

func OpenDevice(drv Driver, index int, config DeviceConfig) (*Device, error) {
	if err := checkoutDevice(index); err != nil {
		return nil, err
	}
	var d = &Device{drv: drv, index: index, config: config, state: stateOpen}
	if err := d.open(); err != nil {
		_ = drv.CloseDevice(index)
		releaseDevice(index)
		return nil, err
	}
	return d, nil
}

func (d *Device) open() error {
	if err := d.drv.OpenDevice(d.index); err != nil {
		return err
	}
	if err := d.drv.Initialize(d.index, ModeT2, RefInternalClock); err != nil {
		return err
	}
	if err := d.configure(); err != nil {
		return err
	}
	time.Sleep(configSettleDelay)
	return nil
}

func (d *Device) configure() error {
	var c = d.config
	var numInputs, err = d.drv.GetNumberOfInputChannels(d.index)
	if err != nil {
		return err
	}
	if numInputs != len(c.Inputs) {
		return fmt.Errorf("%w: configured inputs (%d) must match the device's input channels (%d)",
			ErrInvalidState, len(c.Inputs), numInputs)
	}

	if err := d.drv.SetSyncDivider(d.index, c.SyncDivider); err != nil {
		return err
	}
	if err := d.drv.SetSyncEdgeTrigger(d.index, c.SyncEdgeTriggerLevel, c.SyncEdge); err != nil {
		return err
	}
	if err := d.drv.SetSyncChannelOffset(d.index, c.SyncChannelOffset); err != nil {
		return err
	}
	if err := d.drv.SetSyncChannelEnable(d.index, c.SyncChannelEnable); err != nil {
		return err
	}
	for ch, chConfig := range c.Inputs {
		if err := d.drv.SetInputEdgeTrigger(d.index, ch, chConfig.EdgeTriggerLevel, chConfig.EdgeTrigger); err != nil {
			return err
		}
		if err := d.drv.SetInputChannelOffset(d.index, ch, chConfig.ChannelOffset); err != nil {
			return err
		}
		if err := d.drv.SetInputChannelEnable(d.index, ch, chConfig.Enable); err != nil {
			return err
		}
	}
	return nil
}

// Config returns the configuration snapshot the device was opened
// with.
func (d *Device) Config() DeviceConfig {
	return d.config
}

/*-------------------------------------------------------------------
 *
 * Name:	Stream
 *
 * Purpose:	Run one acquisition, publishing the raw record stream.
 *
 * Inputs:	ctx		- Cancelling it aborts the acquisition.
 *		duration	- Hard deadline enforced by the device.
 *		out		- Raw queue.  Receives MeasStart, zero
 *				  or more RawBatch items, then MeasEnd,
 *				  always in that order.
 *
 * Returns:	nil on normal completion, ErrFifoOverrun when the
 *		device buffer filled, or the context error on abort.
 *		The device is always stopped and MeasEnd is always
 *		published, whatever the exit path.
 *
 * Description:	Poll loop per the vendor's T2 sample code: check the
 *		overrun flag, read the FIFO, and when a read comes back
 *		empty ask the CTC whether the measurement time has
 *		elapsed.  This runs on its own goroutine in normal use
 *		because ReadFIFO blocks inside the vendor library.
 *
 *--------------------------------------------------------------------*/

func (d *Device) Stream(ctx context.Context, duration time.Duration, out *Queue[RawItem]) error {
	d.mu.Lock()
	if d.state != stateOpen {
		d.mu.Unlock()
		return fmt.Errorf("%w: device %d cannot start acquiring (already used or closed)", ErrInvalidState, d.index)
	}
	d.state = stateAcquiring
	d.mu.Unlock()

	if err := out.Put(MeasStartMarker{Config: d.config, Duration: duration}); err != nil {
		d.setState(stateAborted)
		return err
	}

	var runErr = d.pollLoop(ctx, duration, out)
	if errors.Is(runErr, ErrMeasurementCompleted) {
		runErr = nil
	}

	if stopErr := d.drv.StopMeasurement(d.index); stopErr != nil && runErr == nil {
		runErr = stopErr
	}
	if putErr := out.Put(MeasEndMarker{}); putErr != nil && runErr == nil {
		runErr = putErr
	}

	switch {
	case runErr == nil:
		d.setState(stateCompleted)
	case errors.Is(runErr, ErrFifoOverrun):
		d.setState(stateOverrun)
	default:
		d.setState(stateAborted)
	}
	return runErr
}

func (d *Device) pollLoop(ctx context.Context, duration time.Duration, out *Queue[RawItem]) error {
	if err := d.drv.StartMeasurement(d.index, int(duration.Milliseconds())); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			logger.Info("acquisition aborted", "device", d.index)
			return err
		}

		var flags, err = d.drv.GetFlags(d.index)
		if err != nil {
			return err
		}
		if flags&flagFifoFull != 0 {
			logger.Error("FIFO overrun", "device", d.index)
			return ErrFifoOverrun
		}

		count, words, readErr := d.drv.ReadFIFO(d.index)
		if readErr != nil {
			return readErr
		}
		if count > 0 {
			if putErr := out.Put(RawBatch{Words: words[:count]}); putErr != nil {
				return putErr
			}
			continue
		}

		var status, ctcErr = d.drv.CTCStatus(d.index)
		if ctcErr != nil {
			return ctcErr
		}
		if status > 0 {
			return ErrMeasurementCompleted
		}
	}
}

func (d *Device) setState(s deviceState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Close releases the hardware handle and the registry slot.  The
// device cannot be reopened.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.state == stateClosed {
		d.mu.Unlock()
		return fmt.Errorf("%w: device %d already closed", ErrInvalidState, d.index)
	}
	d.state = stateClosed
	d.mu.Unlock()

	var err = d.drv.CloseDevice(d.index)
	releaseDevice(d.index)
	return err
}

// ListDeviceIndex probes all eight indices and reports which ones
// hold an openable device.
func ListDeviceIndex(drv Driver) []int {
	var available []int
	for i := 0; i < maxDevices; i++ {
		if err := drv.OpenDevice(i); err == nil {
			available = append(available, i)
		}
		_ = drv.CloseDevice(i)
	}
	return available
}
