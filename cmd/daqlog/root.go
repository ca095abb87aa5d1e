package main

import (
	"io"

	"github.com/juju/ansiterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/errgo.v1"

	"github.com/rogpeppe/daqlog/daqconfig"
)

var keyUsage = map[string]string{
	"channel":              "channel to read (AIN<n>)",
	"count":                "number of samples to acquire",
	"period":               "interval between samples",
	"output-dir":           "directory to write the record file to",
	"log-level":            "logging configuration (for example <root>=DEBUG)",
	"ntp-host":             "NTP server to take time stamps from (default system clock)",
	"device.kind":          "kind of device (sim, modbus, ads1115 or serial)",
	"device.addr":          "host name or IP address of a modbus device",
	"device.port":          "TCP port of a modbus device",
	"device.unit":          "unit identifier of a modbus device",
	"device.dial-attempts": "number of attempts to connect to a modbus device",
	"device.i2c-bus":       "I²C bus of an ads1115 device",
	"device.i2c-addr":      "I²C address of an ads1115 device",
	"device.serial-port":   "serial port of a serial instrument",
	"device.baud-rate":     "line speed of a serial instrument",
}

type rootFlags struct {
	configFile string
	envFile    string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var flags rootFlags
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Acquire samples and record them to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				printError(stderr, err)
				return err
			}
			return runAcquisition(cmd.Context(), cfg, stdout, stderr)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	summaryCmd := &cobra.Command{
		Use:   "summary FILE...",
		Short: "Print statistics about recorded files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return summarize(args, stdout, stderr)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root := &cobra.Command{
		Use:   "daqlog",
		Short: "Record readings from a data acquisition device",
		Long: `Daqlog reads a device channel at regular intervals and records
each reading, with its time stamp and the time since the previous
reading, to a file named after the start time and the channel.

Configuration is taken from built-in defaults, then the --config file,
then DAQLOG_* environment variables (which may be set in a .env file),
then command line flags.`,
		Args:          cobra.NoArgs,
		RunE:          runCmd.RunE,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	pflags := root.PersistentFlags()
	pflags.StringVar(&flags.configFile, "config", "", "YAML configuration file")
	pflags.StringVar(&flags.envFile, "env-file", ".env", "file of environment variables")
	for _, key := range daqconfig.Keys() {
		pflags.String(key, "", keyUsage[key])
	}
	root.AddCommand(runCmd, summaryCmd)
	return root
}

// loadConfig builds the configuration from all its sources.
func loadConfig(cmd *cobra.Command, flags rootFlags) (*daqconfig.Config, error) {
	cfg := daqconfig.Default()
	if flags.configFile != "" {
		if err := cfg.ReadFile(flags.configFile); err != nil {
			return nil, errgo.Notef(err, "cannot load configuration")
		}
	}
	env, err := daqconfig.Environ(flags.envFile)
	if err != nil {
		return nil, errgo.Mask(err)
	}
	if err := cfg.ApplyEnv(env); err != nil {
		return nil, errgo.Mask(err, errgo.Any)
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if err == nil && daqconfig.IsKey(f.Name) {
			err = cfg.Set(f.Name, f.Value.String())
		}
	})
	if err != nil {
		return nil, errgo.Mask(err, errgo.Any)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errgo.Mask(err, errgo.Any)
	}
	return cfg, nil
}

func printError(w io.Writer, err error) {
	aw := ansiterm.NewWriter(w)
	ansiterm.Foreground(ansiterm.Red).Fprintf(aw, "error: %v\n", err)
}
