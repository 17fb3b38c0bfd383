package main

/*------------------------------------------------------------------
 *
 * Purpose:	Convert a captured .ptu file into the toolkit's
 *		columnar event files.
 *
 * Description:	Replays the file through the same pipeline a live
 *		acquisition uses, with the columnar writer as the sink.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	tdc "github.com/moonshot-nagayama-pj/tdc-toolkit/src"
)

func main() {
	var outDir = pflag.StringP("output", "o", ".parquet", "Directory for the columnar output files.")
	pflag.Parse()

	var logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "tdc-convert"})
	tdc.SetLogger(logger)

	if pflag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] measurement.ptu\n", os.Args[0])
		pflag.PrintDefaults()
		os.Exit(1)
	}
	var inputPath = pflag.Arg(0)
	if !strings.HasSuffix(inputPath, ".ptu") {
		logger.Fatal("specify a .ptu file")
	}

	var f, openErr = os.Open(inputPath)
	if openErr != nil {
		logger.Fatal("could not open input", "err", openErr)
	}
	defer f.Close()

	var ptu, ptuErr = tdc.OpenPTU(f)
	if ptuErr != nil {
		logger.Fatal("could not parse ptu file", "err", ptuErr)
	}
	logger.Info("loaded header", "records", ptu.Remaining(), "tags", len(ptu.Header.Tags))

	var name = strings.TrimSuffix(filepath.Base(inputPath), ".ptu")
	var sink = tdc.NewChunkedWriter(*outDir, name)
	var pipeline = tdc.NewPipeline(tdc.DefaultResolution, sink)

	var streamDone = make(chan error, 1)
	go func() {
		streamDone <- ptu.Stream(pipeline.Raw, 65536)
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
		logger.Fatal("replay failed", "err", err)
	}
	if err := <-runDone; err != nil {
		logger.Fatal("pipeline failed", "err", err)
	}
	if err := sink.Close(); err != nil {
		logger.Fatal("closing sink failed", "err", err)
	}

	logger.Info("wrote events", "events", total)
	for _, path := range sink.Paths() {
		fmt.Println(path)
	}
}
