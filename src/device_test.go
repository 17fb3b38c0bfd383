package tdc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// No hardware in tests, nothing to let settle.
	configSettleDelay = 0
}

func TestOpenDeviceChannelCountMismatch(t *testing.T) {
	var drv = NewStubDriver(8, nil)
	var _, err = OpenDevice(drv, 0, DefaultDeviceConfig(4))
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Contains(t, err.Error(), "must match")

	// The failed open must release the registry slot.
	var d, retryErr = OpenDevice(drv, 0, DefaultDeviceConfig(8))
	require.NoError(t, retryErr)
	require.NoError(t, d.Close())
}

func TestOpenDeviceExclusive(t *testing.T) {
	var drv = NewStubDriver(8, nil)
	var d, err = OpenDevice(drv, 0, DefaultDeviceConfig(8))
	require.NoError(t, err)
	defer d.Close()

	var _, err2 = OpenDevice(drv, 0, DefaultDeviceConfig(8))
	assert.ErrorIs(t, err2, ErrInvalidState)
}

func TestOpenDeviceIndexRange(t *testing.T) {
	var drv = NewStubDriver(8, nil)
	var _, err = OpenDevice(drv, 8, DefaultDeviceConfig(8))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDeviceCloseTwice(t *testing.T) {
	var drv = NewStubDriver(8, nil)
	var d, err = OpenDevice(drv, 0, DefaultDeviceConfig(8))
	require.NoError(t, err)
	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.Close(), ErrInvalidState)
}

// One handle, one acquisition. A second Stream call must be refused.
func TestDeviceSingleAcquisition(t *testing.T) {
	var drv = NewStubDriver(8, [][]uint32{{0x80000001}})
	var d, err = OpenDevice(drv, 0, DefaultDeviceConfig(8))
	require.NoError(t, err)
	defer d.Close()

	var q = NewQueue[RawItem](8)
	require.NoError(t, d.Stream(context.Background(), time.Second, q))

	var q2 = NewQueue[RawItem](8)
	assert.ErrorIs(t, d.Stream(context.Background(), time.Second, q2), ErrInvalidState)
}

func TestDeviceStreamEnvelope(t *testing.T) {
	var batches = SyntheticBatches(10, 12500, 4)
	var drv = NewStubDriver(8, batches)
	var d, err = OpenDevice(drv, 0, DefaultDeviceConfig(8))
	require.NoError(t, err)
	defer d.Close()

	var q = NewQueue[RawItem](16)
	require.NoError(t, d.Stream(context.Background(), time.Second, q))
	q.Shutdown()

	var kinds []string
	for {
		var item, getErr = q.Get()
		if getErr != nil {
			break
		}
		switch item.(type) {
		case MeasStartMarker:
			kinds = append(kinds, "start")
		case RawBatch:
			kinds = append(kinds, "batch")
		case MeasEndMarker:
			kinds = append(kinds, "end")
		}
	}
	require.GreaterOrEqual(t, len(kinds), 3)
	assert.Equal(t, "start", kinds[0])
	assert.Equal(t, "end", kinds[len(kinds)-1])
	for _, k := range kinds[1 : len(kinds)-1] {
		assert.Equal(t, "batch", k)
	}
}

// Overrun at the third poll: two batches out, then MeasEnd, and the
// run reports the overrun.
func TestDeviceStreamFifoOverrun(t *testing.T) {
	var batches = SyntheticBatches(12, 12500, 4) // 3 batches scripted
	var drv = NewStubDriver(8, batches)
	drv.FlagsAt = map[int]int{2: flagFifoFull}

	var d, err = OpenDevice(drv, 0, DefaultDeviceConfig(8))
	require.NoError(t, err)
	defer d.Close()

	var q = NewQueue[RawItem](16)
	var streamErr = d.Stream(context.Background(), time.Second, q)
	assert.ErrorIs(t, streamErr, ErrFifoOverrun)
	q.Shutdown()

	var kinds []string
	for {
		var item, getErr = q.Get()
		if getErr != nil {
			kinds = append(kinds, "shutdown")
			break
		}
		switch item.(type) {
		case MeasStartMarker:
			kinds = append(kinds, "start")
		case RawBatch:
			kinds = append(kinds, "batch")
		case MeasEndMarker:
			kinds = append(kinds, "end")
		}
	}
	assert.Equal(t, []string{"start", "batch", "batch", "end", "shutdown"}, kinds)
}

func TestDeviceStreamCancel(t *testing.T) {
	var drv = NewStubDriver(8, SyntheticBatches(4, 12500, 4))
	var d, err = OpenDevice(drv, 0, DefaultDeviceConfig(8))
	require.NoError(t, err)
	defer d.Close()

	var ctx, cancel = context.WithCancel(context.Background())
	cancel()

	var q = NewQueue[RawItem](16)
	var streamErr = d.Stream(ctx, time.Second, q)
	assert.ErrorIs(t, streamErr, context.Canceled)
	q.Shutdown()

	// Even an aborted acquisition closes its envelope.
	var sawEnd bool
	for {
		var item, getErr = q.Get()
		if getErr != nil {
			break
		}
		if _, ok := item.(MeasEndMarker); ok {
			sawEnd = true
		}
	}
	assert.True(t, sawEnd)
}

func TestListDeviceIndex(t *testing.T) {
	var drv = NewStubDriver(8, nil)
	assert.Equal(t, []int{0}, ListDeviceIndex(drv))
}
