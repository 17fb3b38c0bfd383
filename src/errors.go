package tdc

/*------------------------------------------------------------------
 *
 * Purpose:	Error kinds shared across the toolkit.
 *
 * Description:	Callers classify failures with errors.Is against these
 *		sentinels.  Individual call sites wrap them with
 *		context via fmt.Errorf and %w.
 *
 *---------------------------------------------------------------*/

import "errors"

var (
	// ErrInvalidFormat reports a malformed capture file: missing
	// magic, an unknown header tag type, or an unexpected end of
	// file in the header or record stream.
	ErrInvalidFormat = errors.New("invalid capture file format")

	// ErrInvalidState reports a method called on an object that
	// cannot accept it: a reopened device, configuration after
	// close, or a channel-count mismatch.
	ErrInvalidState = errors.New("invalid state")

	// ErrFifoOverrun reports that the device buffer filled before
	// software drained it.  Fatal for the acquisition.
	ErrFifoOverrun = errors.New("device FIFO overrun")

	// ErrMeasurementCompleted signals the normal end of an
	// acquisition.  Used internally to exit the poll loop; never
	// returned across the API boundary.
	ErrMeasurementCompleted = errors.New("measurement completed")

	// ErrInsufficientData reports a g2 or peak extraction request
	// on a dataset whose windows are empty.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrUnknownChannel reports a coincidence spec referencing a
	// channel the pipeline does not produce.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrQueueShutdown is returned by queue operations after the
	// producer has shut the queue down.
	ErrQueueShutdown = errors.New("queue shut down")
)
