package main

/*------------------------------------------------------------------
 *
 * Purpose:	Calculate a g(2) value from a captured .ptu file.
 *
 * Description:	Decodes the file, locates the sync->detector delay
 *		peaks (unless centers are given on the command line),
 *		counts the two-fold and three-fold coincidences and
 *		prints the normalized ratio.  The full result is also
 *		written as JSON into the --output directory.
 *
 *---------------------------------------------------------------*/

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	tdc "github.com/moonshot-nagayama-pj/tdc-toolkit/src"
)

func main() {
	var output = pflag.StringP("output", "o", "./result", "Directory to put the result files in.")
	var peak1 = pflag.Float64("peak1", 0, "Peak 1 center (ps). Calculated from the data when omitted.")
	var peak2 = pflag.Float64("peak2", 0, "Peak 2 center (ps). Calculated from the data when omitted.")
	var peakWidth = pflag.Float64("peak-width", tdc.DefaultPeakHalfWidth, "Peak half-width (ps).")
	var verbose = pflag.BoolP("verbose", "v", false, "Debug logging.")
	pflag.Parse()

	var logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "tdc-g2"})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}
	tdc.SetLogger(logger)

	if pflag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] measurement.ptu\n", os.Args[0])
		pflag.PrintDefaults()
		os.Exit(1)
	}
	var inputPath = pflag.Arg(0)

	var f, openErr = os.Open(inputPath)
	if openErr != nil {
		logger.Fatal("could not open input", "err", openErr)
	}
	defer f.Close()

	logger.Info("loading file", "path", inputPath)
	var ptu, ptuErr = tdc.OpenPTU(f)
	if ptuErr != nil {
		logger.Fatal("could not parse ptu file", "err", ptuErr)
	}
	var events, decErr = ptu.DecodeAll()
	if decErr != nil {
		logger.Fatal("could not decode records", "err", decErr)
	}
	logger.Info("decoded", "events", len(events))

	var result, g2Err = tdc.CalcG2(events, tdc.G2Options{
		Peak1:         *peak1,
		Peak2:         *peak2,
		PeakHalfWidth: *peakWidth,
	})
	if g2Err != nil {
		logger.Fatal("g2 calculation failed", "err", g2Err)
	}

	fmt.Printf("peak1: %g ~ %g (ps)\n", result.PeakStart1, result.PeakEnd1)
	fmt.Printf("peak2: %g ~ %g (ps)\n", result.PeakStart2, result.PeakEnd2)
	if result.ChannelSwapped {
		fmt.Println("channel 1 and 2 were swapped")
	}
	fmt.Printf("n_sync: %d  n_sync_1: %d  n_sync_2: %d  n_sync_1_2: %d\n",
		result.NSync, result.NSync1, result.NSync2, result.NSync12)
	fmt.Printf("g2: %g\n", result.G2)

	if mkErr := os.MkdirAll(*output, 0o755); mkErr != nil {
		logger.Fatal("could not create result dir", "err", mkErr)
	}
	var base = strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	var resultPath = filepath.Join(*output, base+"_result.json")
	var data, _ = json.MarshalIndent(result, "", "  ")
	if writeErr := os.WriteFile(resultPath, data, 0o644); writeErr != nil {
		logger.Fatal("could not write result", "err", writeErr)
	}
	logger.Info("wrote result", "path", resultPath)
}
