package record

import (
	"io"
	"time"

	"gopkg.in/errgo.v1"
)

// Summary holds statistics about the samples in a record file.
type Summary struct {
	Channel string
	Count   int

	// First and Last hold the time stamps of the first and last samples.
	First, Last time.Time

	MinDuration, MaxDuration, MeanDuration time.Duration

	MinValue, MaxValue, MeanValue float64
}

// Summarize reads all the samples from r and returns statistics about them.
func Summarize(r *Reader) (*Summary, error) {
	sum := &Summary{
		Channel: r.Channel(),
	}
	var totalDuration time.Duration
	var totalValue float64
	for {
		s, err := r.ReadSample()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errgo.Notef(err, "cannot read sample %d", sum.Count)
		}
		if sum.Count == 0 {
			sum.First = s.Time
			sum.MinDuration, sum.MaxDuration = s.Duration, s.Duration
			sum.MinValue, sum.MaxValue = s.Value, s.Value
		}
		sum.Last = s.Time
		if s.Duration < sum.MinDuration {
			sum.MinDuration = s.Duration
		}
		if s.Duration > sum.MaxDuration {
			sum.MaxDuration = s.Duration
		}
		if s.Value < sum.MinValue {
			sum.MinValue = s.Value
		}
		if s.Value > sum.MaxValue {
			sum.MaxValue = s.Value
		}
		totalDuration += s.Duration
		totalValue += s.Value
		sum.Count++
	}
	if sum.Count > 0 {
		sum.MeanDuration = totalDuration / time.Duration(sum.Count)
		sum.MeanValue = totalValue / float64(sum.Count)
	}
	return sum, nil
}
