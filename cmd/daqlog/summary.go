package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/juju/ansiterm"
	"gopkg.in/errgo.v1"

	"github.com/rogpeppe/daqlog/record"
)

// summarize prints a line of statistics for each of the given
// record files. Files that can't be read are reported to stderr
// and skipped.
func summarize(paths []string, stdout, stderr io.Writer) error {
	tw := ansiterm.NewTabWriter(stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "FILE\tCHANNEL\tCOUNT\tFIRST\tLAST\tDURATION (min/mean/max ms)\tVALUE (min/mean/max)\n")
	failed := 0
	for _, path := range paths {
		sum, err := summarizeFile(path)
		if err != nil {
			printError(stderr, err)
			failed++
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			path,
			sum.Channel,
			sum.Count,
			formatTime(sum.First, sum.Count),
			formatTime(sum.Last, sum.Count),
			fmt.Sprintf("%.1f/%.1f/%.1f", millis(sum.MinDuration), millis(sum.MeanDuration), millis(sum.MaxDuration)),
			fmt.Sprintf("%.3f/%.3f/%.3f", sum.MinValue, sum.MeanValue, sum.MaxValue),
		)
	}
	tw.Flush()
	if failed > 0 {
		return errgo.Newf("%d of %d files could not be read", failed, len(paths))
	}
	return nil
}

func summarizeFile(path string) (*record.Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errgo.Mask(err)
	}
	defer f.Close()
	r, err := record.NewReader(f, time.Local)
	if err != nil {
		return nil, errgo.Notef(err, "cannot read %s", path)
	}
	sum, err := record.Summarize(r)
	if err != nil {
		return nil, errgo.Notef(err, "cannot read %s", path)
	}
	return sum, nil
}

func formatTime(t time.Time, count int) string {
	if count == 0 {
		return "-"
	}
	return t.Format(record.TimeFormat)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
