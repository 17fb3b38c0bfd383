package tdc

/*------------------------------------------------------------------
 *
 * Purpose:	Package logger.
 *
 *---------------------------------------------------------------*/

import (
	"os"

	"github.com/charmbracelet/log"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	Prefix:          "tdc",
})

// SetLogger replaces the package logger.  Entry points call this to
// route toolkit logs through their own configured logger.
func SetLogger(l *log.Logger) {
	logger = l
}
