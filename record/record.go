// Package record implements the text format used to store
// acquired samples.
//
// A record file starts with a header line naming the channel:
//
//	Time Stamp, Duration/Jitter (ms), AIN0
//
// followed by one line per sample holding three comma-separated fields:
//
//	wall-clock time of the sample (see TimeFormat)
//	time since the previous sample, in milliseconds to one decimal place
//	the measured value, to three decimal places
//
// Lines are terminated by CRLF.
package record

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/errgo.v1"
)

// TimeFormat is the format of the time stamp in each record.
const TimeFormat = "2006/01/02 03:04:05PM"

// fileTimeFormat is the format of the time in record file names.
// We omit slashes and colons so that it's valid on all filesystems.
const fileTimeFormat = "2006_01_02-03_04_05PM"

const headerPrefix = "Time Stamp, Duration/Jitter (ms), "

// Sample holds a single acquired sample.
type Sample struct {
	// Index holds the position of the sample in the run, from zero.
	Index int
	// Time holds the wall-clock time at which the sample was taken.
	Time time.Time
	// Duration holds the time since the previous sample
	// (or since the start of the run for the first sample).
	Duration time.Duration
	// Value holds the measured value.
	Value float64
	// MissedIntervals holds the number of intervals that
	// were skipped before this sample was taken.
	// It is not stored in the record file.
	MissedIntervals int
}

// DurationMillis returns the sample's duration in milliseconds.
func (s Sample) DurationMillis() float64 {
	return float64(s.Duration) / float64(time.Millisecond)
}

// FileName returns the name of the record file for a run
// started at the given time reading the given channel.
func FileName(dir string, start time.Time, channel string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.csv", start.Format(fileTimeFormat), channel))
}

// Writer writes samples to an underlying writer.
// Each record is written with a single Write call.
// If the underlying writer has a Flush or Sync method,
// it is called after each record is written.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer that writes records to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w: w,
	}
}

// WriteHeader writes the header line for the given channel.
func (w *Writer) WriteHeader(channel string) error {
	return w.write(headerPrefix + channel + "\r\n")
}

// Append writes a single sample.
func (w *Writer) Append(s Sample) error {
	return w.write(fmt.Sprintf("%s, %.1f, %.3f\r\n", s.Time.Format(TimeFormat), s.DurationMillis(), s.Value))
}

func (w *Writer) write(line string) error {
	if _, err := io.WriteString(w.w, line); err != nil {
		return errgo.Notef(err, "cannot write record")
	}
	if f, ok := w.w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return errgo.Notef(err, "cannot flush record")
		}
	}
	if f, ok := w.w.(interface{ Sync() error }); ok {
		if err := f.Sync(); err != nil {
			return errgo.Notef(err, "cannot sync record")
		}
	}
	return nil
}

// File is a record Writer that writes to a file.
type File struct {
	*Writer
	f *os.File
}

// Create creates a new record file at the given path. It fails
// if the file already exists. The file should be closed after use.
func Create(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL|os.O_APPEND, 0666)
	if err != nil {
		return nil, errgo.Mask(err, os.IsExist)
	}
	return &File{
		Writer: NewWriter(f),
		f:      f,
	}, nil
}

// Path returns the path of the file.
func (f *File) Path() string {
	return f.f.Name()
}

// Close closes the file.
func (f *File) Close() error {
	return f.f.Close()
}

// Reader reads samples from a record file.
type Reader struct {
	scanner *bufio.Scanner
	channel string
	loc     *time.Location
	n       int
}

// NewReader returns a Reader that reads records from r,
// interpreting time stamps in the given location (or time.Local
// if loc is nil). It reads the header line immediately.
func NewReader(r io.Reader, loc *time.Location) (*Reader, error) {
	if loc == nil {
		loc = time.Local
	}
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, errgo.Notef(err, "cannot read header")
		}
		return nil, errgo.Newf("no header found")
	}
	line := scanner.Text()
	if !strings.HasPrefix(line, headerPrefix) {
		return nil, errgo.Newf("invalid header line %q", line)
	}
	return &Reader{
		scanner: scanner,
		channel: strings.TrimPrefix(line, headerPrefix),
		loc:     loc,
	}, nil
}

// Channel returns the channel named in the header.
func (r *Reader) Channel() string {
	return r.channel
}

var (
	durationPat = regexp.MustCompile(`^-?[0-9]+\.[0-9]$`)
	valuePat    = regexp.MustCompile(`^-?[0-9]+\.[0-9]{3}$`)
)

// ReadSample returns the next sample in the file.
// It returns io.EOF at the end of the file.
// The MissedIntervals field is always zero.
func (r *Reader) ReadSample() (Sample, error) {
	if !r.scanner.Scan() {
		if r.scanner.Err() == nil {
			return Sample{}, io.EOF
		}
		return Sample{}, r.scanner.Err()
	}
	line := r.scanner.Text()
	fields := strings.Split(line, ", ")
	if len(fields) != 3 {
		return Sample{}, errgo.Newf("invalid record line found: %q", line)
	}
	t, err := time.ParseInLocation(TimeFormat, fields[0], r.loc)
	if err != nil {
		return Sample{}, errgo.Newf("invalid time stamp in record line %q", line)
	}
	if !durationPat.MatchString(fields[1]) {
		return Sample{}, errgo.Newf("invalid duration in record line %q", line)
	}
	ms, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Sample{}, errgo.Newf("invalid duration in record line %q", line)
	}
	if !valuePat.MatchString(fields[2]) {
		return Sample{}, errgo.Newf("invalid value in record line %q", line)
	}
	value, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Sample{}, errgo.Newf("invalid value in record line %q", line)
	}
	s := Sample{
		Index:    r.n,
		Time:     t,
		Duration: time.Duration(math.Round(ms*1000)) * time.Microsecond,
		Value:    value,
	}
	r.n++
	return s, nil
}

// ReadAll reads all the remaining samples from r.
func ReadAll(r *Reader) ([]Sample, error) {
	var samples []Sample
	for {
		s, err := r.ReadSample()
		if err != nil {
			if err == io.EOF {
				return samples, nil
			}
			return samples, err
		}
		samples = append(samples, s)
	}
}
