package main

/*------------------------------------------------------------------
 *
 * Purpose:	Count n-fold coincidences in a captured .ptu file.
 *
 * Description:	The tuple is the sync channel followed by each
 *		--channel triple in order.  Example:
 *
 *		    tdc-coincidence run.ptu --channel 1,250,350 --channel 2,450,550
 *
 *		counts [sync 1 2] triples where channel 1 fires
 *		250..350 ps after sync and channel 2 fires 450..550 ps
 *		after sync, along with the per-channel singles.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	tdc "github.com/moonshot-nagayama-pj/tdc-toolkit/src"
)

func parseChannelTriple(s string) (tdc.ChannelSpec, error) {
	var parts = strings.Split(s, ",")
	if len(parts) != 3 {
		return tdc.ChannelSpec{}, fmt.Errorf("want ch,peak_start,peak_end, got %q", s)
	}
	ch, chErr := strconv.ParseUint(parts[0], 10, 8)
	if chErr != nil {
		return tdc.ChannelSpec{}, chErr
	}
	start, startErr := strconv.ParseFloat(parts[1], 64)
	if startErr != nil {
		return tdc.ChannelSpec{}, startErr
	}
	end, endErr := strconv.ParseFloat(parts[2], 64)
	if endErr != nil {
		return tdc.ChannelSpec{}, endErr
	}
	return tdc.Windowed(uint8(ch), start, end), nil
}

func main() {
	var syncCh = pflag.Uint8("sync-ch", 0, "Sync (base) channel.")
	var channels = pflag.StringArray("channel", nil,
		"Target channel and peak window in ps as ch,peak_start,peak_end. Repeatable.")
	pflag.Parse()

	var logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "tdc-coincidence"})
	tdc.SetLogger(logger)

	if pflag.NArg() != 1 || len(*channels) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s measurement.ptu --channel ch,start,end [--channel ...]\n", os.Args[0])
		pflag.PrintDefaults()
		os.Exit(1)
	}

	var specs = []tdc.ChannelSpec{tdc.Plain(*syncCh)}
	for _, arg := range *channels {
		var spec, err = parseChannelTriple(arg)
		if err != nil {
			logger.Fatal("bad --channel", "arg", arg, "err", err)
		}
		specs = append(specs, spec)
	}

	var counter, counterErr = tdc.NewCoincidenceCounter(specs)
	if counterErr != nil {
		logger.Fatal("bad coincidence configuration", "err", counterErr)
	}

	var f, openErr = os.Open(pflag.Arg(0))
	if openErr != nil {
		logger.Fatal("could not open input", "err", openErr)
	}
	defer f.Close()

	var ptu, ptuErr = tdc.OpenPTU(f)
	if ptuErr != nil {
		logger.Fatal("could not parse ptu file", "err", ptuErr)
	}
	var events, decErr = ptu.DecodeAll()
	if decErr != nil {
		logger.Fatal("could not decode records", "err", decErr)
	}

	var produced = map[uint8]bool{}
	for _, ev := range events {
		produced[ev.Ch] = true
	}
	if err := counter.CheckChannels(produced); err != nil {
		logger.Fatal("coincidence spec does not match the data", "err", err)
	}

	counter.ProcessEvents(events)

	fmt.Println("coincidence counts:")
	for name, count := range counter.Counts() {
		fmt.Printf("%s %d\n", name, count)
	}
	fmt.Println("\nch | count")
	var chs []int
	for _, spec := range specs {
		chs = append(chs, int(spec.Ch))
	}
	sort.Ints(chs)
	for _, ch := range chs {
		fmt.Printf("%d   %d\n", ch, counter.Singles(uint8(ch)))
	}
}
