package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/juju/ansiterm"
	"github.com/juju/loggo"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
	"gopkg.in/errgo.v1"

	"github.com/rogpeppe/daqlog/acquire"
	"github.com/rogpeppe/daqlog/ads1115"
	"github.com/rogpeppe/daqlog/daqconfig"
	"github.com/rogpeppe/daqlog/device"
	"github.com/rogpeppe/daqlog/interval"
	"github.com/rogpeppe/daqlog/modbus"
	"github.com/rogpeppe/daqlog/record"
	"github.com/rogpeppe/daqlog/serialdev"
	"github.com/rogpeppe/daqlog/wallclock"
)

const modbusTimeout = 5 * time.Second

// newIntervalClock is used to make the interval clock for a run.
// It's overridden for tests.
var newIntervalClock = func() interval.Clock {
	return interval.NewHost()
}

// runAcquisition runs a complete acquisition as described by cfg,
// writing progress to stdout.
func runAcquisition(ctx context.Context, cfg *daqconfig.Config, stdout, stderr io.Writer) error {
	if err := loggo.ConfigureLoggers(cfg.LogLevel); err != nil {
		return errgo.Notef(err, "cannot configure logging")
	}
	runID := xid.New().String()
	logger.Infof("run %s: reading %s from %s device", runID, cfg.Channel, cfg.Device.Kind)
	out := ansiterm.NewWriter(stdout)
	err := acquireToFile(ctx, runID, cfg, out)
	if err != nil {
		logger.Errorf("run %s: %v", runID, err)
		printError(stderr, err)
		return err
	}
	return nil
}

func acquireToFile(ctx context.Context, runID string, cfg *daqconfig.Config, out *ansiterm.Writer) error {
	wclock, err := openWallClock(cfg)
	if err != nil {
		return errgo.Mask(err)
	}
	defer onExit(wclock.Close)()

	dev, err := openDevice(ctx, cfg.Device)
	if err != nil {
		return errgo.Notef(err, "cannot open %s device", cfg.Device.Kind)
	}
	defer onExit(func() {
		if err := dev.Close(); err != nil {
			logger.Warningf("run %s: cannot close device: %v", runID, err)
		}
	})()
	fmt.Fprintln(out, dev.Identity())

	start := wclock.Now()
	f, err := record.Create(record.FileName(cfg.OutputDir, start, cfg.Channel))
	if err != nil {
		return errgo.Notef(err, "cannot create record file")
	}
	defer onExit(func() {
		if err := f.Close(); err != nil {
			logger.Warningf("run %s: cannot close %s: %v", runID, f.Path(), err)
		}
	})()
	fmt.Fprintf(out, "The time is: %s\n", start.Format(record.TimeFormat))
	fmt.Fprintf(out, "Reading %s %d times and saving data to the file: %s\n", cfg.Channel, cfg.Count, f.Path())

	loop, err := acquire.New(acquire.Params{
		Device:  dev,
		Clock:   newIntervalClock(),
		Sink:    f,
		Channel: cfg.Channel,
		Period:  cfg.Period,
		Count:   cfg.Count,
		Now:     wclock.Now,
		Notify: func(s record.Sample) {
			printSample(out, cfg.Channel, s)
		},
	})
	if err != nil {
		return errgo.Mask(err, errgo.Any)
	}
	res, err := loop.Run(ctx)
	if res.Interrupted {
		ansiterm.Foreground(ansiterm.Yellow).Fprintf(out, "Interrupted after %d of %d samples\n", res.Collected, res.Requested)
	} else {
		fmt.Fprintln(out, "Finished!")
	}
	fmt.Fprintf(out, "The final time is: %s\n", res.End.Format(record.TimeFormat))
	if err != nil {
		return errgo.Notef(err, "acquisition failed after %d of %d samples (partial data in %s)", res.Collected, res.Requested, f.Path())
	}
	logger.Infof("run %s: recorded %d samples to %s", runID, res.Collected, f.Path())
	return nil
}

func printSample(out *ansiterm.Writer, channel string, s record.Sample) {
	fmt.Fprintf(out, "%s reading: %v V, duration: %.1f ms, skipped intervals: ", channel, s.Value, s.DurationMillis())
	if s.MissedIntervals > 0 {
		ansiterm.Foreground(ansiterm.Yellow).Fprintf(out, "%d", s.MissedIntervals)
	} else {
		fmt.Fprintf(out, "%d", s.MissedIntervals)
	}
	fmt.Fprintln(out)
}

// onExit arranges for f to be called when the process exits
// through atexit.Exit and returns a function that calls it
// immediately. f is called at most once.
func onExit(f func()) func() {
	var once sync.Once
	g := func() {
		once.Do(f)
	}
	atexit.Register(g)
	return g
}

func openWallClock(cfg *daqconfig.Config) (wallclock.Clock, error) {
	if cfg.NTPHost == "" {
		return wallclock.System(nil), nil
	}
	c, err := wallclock.NewNTP(wallclock.Params{
		Host: cfg.NTPHost,
	})
	if err != nil {
		return nil, errgo.Mask(err)
	}
	return c, nil
}

func openDevice(ctx context.Context, cfg daqconfig.Device) (device.Device, error) {
	switch cfg.Kind {
	case daqconfig.KindSim:
		return device.NewSimulated(), nil
	case daqconfig.KindModbus:
		d, err := modbus.Open(ctx, modbus.Params{
			Addr:         cfg.Addr,
			Port:         cfg.Port,
			Unit:         byte(cfg.Unit),
			Timeout:      modbusTimeout,
			DialAttempts: cfg.DialAttempts,
		})
		if err != nil {
			return nil, errgo.Mask(err)
		}
		return d, nil
	case daqconfig.KindADS1115:
		d, err := ads1115.Open(ads1115.Params{
			Bus:     cfg.I2CBus,
			Address: uint16(cfg.I2CAddr),
		})
		if err != nil {
			return nil, errgo.Mask(err)
		}
		return d, nil
	case daqconfig.KindSerial:
		d, err := serialdev.Open(serialdev.Params{
			Port:     cfg.SerialPort,
			BaudRate: uint(cfg.BaudRate),
		})
		if err != nil {
			return nil, errgo.Mask(err)
		}
		return d, nil
	}
	return nil, errgo.Newf("unknown device kind %q", cfg.Kind)
}
