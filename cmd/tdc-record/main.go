package main

/*------------------------------------------------------------------
 *
 * Purpose:	Run an acquisition and stream decoded events to disk.
 *
 * Description:	Without the vendor library on the machine there is no
 *		real hardware to talk to, so this always drives the
 *		deterministic stub device; the poll loop, decode stage
 *		and sink are exactly the ones a real device would feed.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	tdc "github.com/moonshot-nagayama-pj/tdc-toolkit/src"
)

func main() {
	var duration = pflag.DurationP("duration", "d", time.Second, "Measurement duration.")
	var outDir = pflag.StringP("output", "o", ".parquet", "Directory for the columnar output files.")
	var name = pflag.StringP("name", "n", "capture", "Middle component of the output file names.")
	var configPath = pflag.StringP("config", "c", "", "Device configuration YAML. Defaults are used when omitted.")
	var verbose = pflag.BoolP("verbose", "v", false, "Debug logging.")
	pflag.Parse()

	var logger = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "tdc-record"})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}
	tdc.SetLogger(logger)

	// 12.5 ns between pulses like an 80 MHz laser, but only a
	// thousand pulses per requested millisecond so the synthetic
	// dataset stays a reasonable size.
	var pulses = int(duration.Milliseconds()) * 1000
	var drv = tdc.NewStubDriver(8, tdc.SyntheticBatches(pulses, 12500, 100000))

	var indices = tdc.ListDeviceIndex(drv)
	if len(indices) == 0 {
		logger.Fatal("no device found")
	}
	logger.Info("available devices", "indices", indices)

	var config = tdc.DefaultDeviceConfig(8)
	if *configPath != "" {
		var loaded, err = tdc.LoadDeviceConfig(*configPath)
		if err != nil {
			logger.Fatal("could not load device config", "err", err)
		}
		config = loaded
	}

	var dev, openErr = tdc.OpenDevice(drv, indices[0], config)
	if openErr != nil {
		logger.Fatal("could not open device", "err", openErr)
	}
	defer dev.Close()

	var sink = tdc.NewChunkedWriter(*outDir, *name)
	var pipeline = tdc.NewPipeline(tdc.DefaultResolution, sink)

	var ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var streamDone = make(chan error, 1)
	go func() {
		streamDone <- dev.Stream(ctx, *duration, pipeline.Raw)
		pipeline.Raw.Shutdown()
	}()
	var runDone = make(chan error, 1)
	go func() {
		runDone <- pipeline.Run()
	}()

	var total int
	for {
		var item, err = pipeline.Events.Get()
		if err != nil {
			break
		}
		if batch, ok := item.(tdc.EventBatch); ok {
			total += len(batch.Events)
		}
	}

	if err := <-streamDone; err != nil {
		logger.Error("acquisition failed", "err", err)
	}
	if err := <-runDone; err != nil {
		logger.Error("pipeline failed", "err", err)
	}
	if err := sink.Close(); err != nil {
		logger.Error("closing sink failed", "err", err)
	}

	logger.Info("done", "events", total)
	for _, path := range sink.Paths() {
		fmt.Println(path)
	}
}
