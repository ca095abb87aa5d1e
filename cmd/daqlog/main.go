// The daqlog command reads a data acquisition channel at regular
// intervals and records the readings to a file.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/loggo"
	"github.com/tebeka/atexit"
)

var logger = loggo.GetLogger("daqlog.cmd")

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Infof("interrupted; finishing the current sample")
		cancel()
		<-sigc
		logger.Errorf("interrupted again; exiting immediately")
		atexit.Exit(1)
	}()
	cmd := newRootCmd(os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
