package main

import (
	"bytes"
	"context"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/rogpeppe/daqlog/interval"
	"github.com/rogpeppe/daqlog/intervaltest"
)

func runMain(c *qt.C, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	cmd := newRootCmd(&outBuf, &errBuf)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return outBuf.String(), errBuf.String(), err
}

func patchClock(c *qt.C) {
	c.Patch(&newIntervalClock, func() interval.Clock {
		return intervaltest.NewClock(0)
	})
}

func TestRun(t *testing.T) {
	c := qt.New(t)
	patchClock(c)
	dir := t.TempDir()
	stdout, stderr, err := runMain(c,
		"run",
		"--env-file", filepath.Join(dir, "none.env"),
		"--count", "3",
		"--period", "100ms",
		"--output-dir", dir,
		"--device.kind", "sim",
	)
	c.Assert(err, qt.IsNil)
	c.Assert(stderr, qt.Equals, "")

	files, err := filepath.Glob(filepath.Join(dir, "*-AIN0.csv"))
	c.Assert(err, qt.IsNil)
	c.Assert(files, qt.HasLen, 1)

	lines := strings.Split(strings.TrimSuffix(stdout, "\n"), "\n")
	c.Assert(lines, qt.HasLen, 10)
	c.Assert(strings.Join(lines[0:3], "\n"), qt.Equals, `Device type: SIM, Connection type: NONE,
Serial number: 0, IP address: localhost, Port: 0,
Max bytes per MB: 0`)
	c.Assert(lines[3], qt.Matches, `The time is: \d{4}/\d\d/\d\d \d\d:\d\d:\d\d[AP]M`)
	c.Assert(lines[4], qt.Equals, "Reading AIN0 3 times and saving data to the file: "+files[0])
	for _, line := range lines[5:8] {
		c.Assert(line, qt.Matches, `AIN0 reading: [0-9.e+-]+ V, duration: 100\.0 ms, skipped intervals: 0`)
	}
	c.Assert(lines[8], qt.Equals, "Finished!")
	c.Assert(lines[9], qt.Matches, `The final time is: .*`)

	data, err := ioutil.ReadFile(files[0])
	c.Assert(err, qt.IsNil)
	records := strings.Split(strings.TrimSuffix(string(data), "\r\n"), "\r\n")
	c.Assert(records, qt.HasLen, 4)
	c.Assert(records[0], qt.Equals, "Time Stamp, Duration/Jitter (ms), AIN0")
	for _, r := range records[1:] {
		c.Assert(r, qt.Matches, `\d{4}/\d\d/\d\d \d\d:\d\d:\d\d[AP]M, 100\.0, \d\.\d{3}`)
	}

	// The summary command can read the file back.
	stdout, stderr, err = runMain(c, "summary", files[0])
	c.Assert(err, qt.IsNil)
	c.Assert(stderr, qt.Equals, "")
	c.Assert(stdout, qt.Contains, "100.0/100.0/100.0")
	c.Assert(stdout, qt.Matches, `(?s)FILE +CHANNEL +COUNT.*\n.*-AIN0\.csv +AIN0 +3 .*`)
}

func TestRunIsDefaultCommand(t *testing.T) {
	c := qt.New(t)
	patchClock(c)
	dir := t.TempDir()
	stdout, _, err := runMain(c,
		"--env-file", filepath.Join(dir, "none.env"),
		"--count", "1",
		"--output-dir", dir,
		"--channel", "AIN2",
	)
	c.Assert(err, qt.IsNil)
	c.Assert(stdout, qt.Contains, "Reading AIN2 1 times")
	files, err := filepath.Glob(filepath.Join(dir, "*-AIN2.csv"))
	c.Assert(err, qt.IsNil)
	c.Assert(files, qt.HasLen, 1)
}

func TestRunConfigFile(t *testing.T) {
	c := qt.New(t)
	patchClock(c)
	dir := t.TempDir()
	configFile := filepath.Join(dir, "daqlog.yaml")
	err := ioutil.WriteFile(configFile, []byte("count: 2\nchannel: AIN1\noutput-dir: "+dir+"\n"), 0666)
	c.Assert(err, qt.IsNil)
	envFile := filepath.Join(dir, "test.env")
	err = ioutil.WriteFile(envFile, []byte("DAQLOG_CHANNEL=AIN3\n"), 0666)
	c.Assert(err, qt.IsNil)

	// The flag overrides the environment, which overrides the file.
	stdout, _, err := runMain(c, "run", "--config", configFile, "--env-file", envFile, "--count", "4")
	c.Assert(err, qt.IsNil)
	c.Assert(stdout, qt.Contains, "Reading AIN3 4 times")
}

func TestRunInvalidConfig(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	_, stderr, err := runMain(c, "run", "--env-file", filepath.Join(dir, "none.env"), "--count", "0")
	c.Assert(err, qt.ErrorMatches, `invalid sample count 0`)
	c.Assert(stderr, qt.Equals, "error: invalid sample count 0\n")
}

func TestRunDeviceError(t *testing.T) {
	c := qt.New(t)
	patchClock(c)
	dir := t.TempDir()
	stdout, stderr, err := runMain(c,
		"run",
		"--env-file", filepath.Join(dir, "none.env"),
		"--output-dir", dir,
		"--channel", "AIN9",
	)
	c.Assert(err, qt.ErrorMatches, `acquisition failed after 0 of 10 samples \(partial data in .*\): cannot read AIN9 for sample 0: invalid channel "AIN9"`)
	c.Assert(stderr, qt.Contains, "error: acquisition failed")

	// The closing lines are printed even though the run failed.
	lines := strings.Split(strings.TrimSuffix(stdout, "\n"), "\n")
	c.Assert(len(lines) >= 2, qt.IsTrue, qt.Commentf("stdout %q", stdout))
	c.Assert(lines[len(lines)-2], qt.Equals, "Finished!")
	c.Assert(lines[len(lines)-1], qt.Matches, `The final time is: \d{4}/\d\d/\d\d \d\d:\d\d:\d\d[AP]M`)

	// The header is still written.
	files, err := filepath.Glob(filepath.Join(dir, "*-AIN9.csv"))
	c.Assert(err, qt.IsNil)
	c.Assert(files, qt.HasLen, 1)
	data, err := ioutil.ReadFile(files[0])
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, "Time Stamp, Duration/Jitter (ms), AIN9\r\n")
}

func TestSummaryBadFile(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	err := ioutil.WriteFile(path, []byte("not a record file\n"), 0666)
	c.Assert(err, qt.IsNil)
	_, stderr, err := runMain(c, "summary", path, filepath.Join(dir, "missing.csv"))
	c.Assert(err, qt.ErrorMatches, `2 of 2 files could not be read`)
	c.Assert(stderr, qt.Contains, `invalid header line "not a record file"`)
	c.Assert(stderr, qt.Contains, `missing.csv: no such file or directory`)
}
