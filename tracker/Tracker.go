// Package tracker records training progress: episodic returns saved as
// gob data for later analysis, a CSV log of generated samples with
// null markers for failed reward components, and running-average
// solved detection.
package tracker

import (
	"encoding/csv"
	"encoding/gob"
	"fmt"
	"os"
	"strconv"

	"molgen/reward"
)

// nullMarker stands in for a score whose reward component failed
const nullMarker = "null"

// Returns accumulates episodic returns and reports running averages
type Returns struct {
	returns []float64

	// window is the number of most recent episodes averaged by
	// Average and Solved.
	window int
}

// NewReturns returns a tracker averaging over the given window of
// recent episodes.
func NewReturns(window int) (*Returns, error) {
	if window < 1 {
		return nil, fmt.Errorf("newReturns: window must be positive")
	}
	return &Returns{window: window}, nil
}

// Track records one episode's return
func (r *Returns) Track(ret float64) {
	r.returns = append(r.returns, ret)
}

// Episodes returns the number of tracked episodes
func (r *Returns) Episodes() int {
	return len(r.returns)
}

// Average returns the mean return over the most recent window of
// episodes, or over all episodes when fewer have been tracked.
func (r *Returns) Average() float64 {
	if len(r.returns) == 0 {
		return 0
	}
	start := len(r.returns) - r.window
	if start < 0 {
		start = 0
	}
	total := 0.0
	for _, ret := range r.returns[start:] {
		total += ret
	}
	return total / float64(len(r.returns)-start)
}

// Solved reports whether the running average has reached the
// threshold over a full window of episodes.
func (r *Returns) Solved(threshold float64) bool {
	return len(r.returns) >= r.window && r.Average() >= threshold
}

// Save writes the tracked returns to path as gob data
func (r *Returns) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save: %v", err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(r.returns); err != nil {
		return fmt.Errorf("save: could not encode returns: %v", err)
	}
	return nil
}

// LoadReturns reads returns previously written by Save
func LoadReturns(path string, window int) (*Returns, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loadReturns: %v", err)
	}
	defer f.Close()

	r, err := NewReturns(window)
	if err != nil {
		return nil, err
	}
	if err := gob.NewDecoder(f).Decode(&r.returns); err != nil {
		return nil, fmt.Errorf("loadReturns: could not decode returns: %v",
			err)
	}
	return r, nil
}

// SampleLog appends generated terminal states to a CSV file: the
// score column first, then the state features. A failed reward
// component is logged as a null marker rather than dropped.
type SampleLog struct {
	f *os.File
	w *csv.Writer
}

// NewSampleLog opens (or creates) the CSV log at path for appending
func NewSampleLog(path string) (*SampleLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("newSampleLog: %v", err)
	}
	return &SampleLog{f: f, w: csv.NewWriter(f)}, nil
}

// Log appends one sample row
func (s *SampleLog) Log(state []float64, outcome reward.Outcome) error {
	record := make([]string, 0, len(state)+1)
	if outcome.Ok() {
		record = append(record,
			strconv.FormatFloat(outcome.Value, 'g', -1, 64))
	} else {
		record = append(record, nullMarker)
	}
	for _, x := range state {
		record = append(record, strconv.FormatFloat(x, 'g', -1, 64))
	}

	if err := s.w.Write(record); err != nil {
		return fmt.Errorf("log: %v", err)
	}
	return nil
}

// Flush writes buffered rows to the underlying file
func (s *SampleLog) Flush() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush: %v", err)
	}
	return nil
}

// Close flushes and closes the log
func (s *SampleLog) Close() error {
	if err := s.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
