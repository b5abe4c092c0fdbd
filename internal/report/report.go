// Package report aggregates completion records into a run summary.
package report

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/kelindar/binary"

	"iotriad/internal/workload"
)

// Summary holds the aggregate outcome of one run. Computed purely from the
// completion records: aggregating the same records twice yields identical
// numbers.
type Summary struct {
	RunID   string
	Backend string

	Ops         int
	Resources   int
	PayloadSize int

	Success  int
	IOErrors int
	Closed   int
	Timeouts int

	BytesMoved uint64
	Elapsed    time.Duration
	OpsPerSec  float64
	MBPerSec   float64

	LatMin    time.Duration
	LatMean   time.Duration
	LatMedian time.Duration
	LatP95    time.Duration
	LatP99    time.Duration
	LatMax    time.Duration
}

// Aggregate computes the summary for a finished run.
func Aggregate(runID, backendName string, resources, payloadSize int, completions []workload.Completion, elapsed time.Duration) Summary {
	s := Summary{
		RunID:       runID,
		Backend:     backendName,
		Ops:         len(completions),
		Resources:   resources,
		PayloadSize: payloadSize,
		Elapsed:     elapsed,
	}

	latencies := make([]time.Duration, 0, len(completions))
	var totalLatency time.Duration

	for _, c := range completions {
		switch c.Kind() {
		case workload.KindOk:
			s.Success++
		case workload.KindClosed:
			s.Closed++
		case workload.KindTimeout:
			s.Timeouts++
		default:
			s.IOErrors++
		}
		s.BytesMoved += uint64(c.N)
		latencies = append(latencies, c.Latency)
		totalLatency += c.Latency
	}

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		s.LatMin = latencies[0]
		s.LatMax = latencies[len(latencies)-1]
		s.LatMean = totalLatency / time.Duration(len(latencies))
		s.LatMedian = percentile(latencies, 50)
		s.LatP95 = percentile(latencies, 95)
		s.LatP99 = percentile(latencies, 99)
	}

	if elapsed > 0 {
		s.OpsPerSec = float64(len(completions)) / elapsed.Seconds()
		s.MBPerSec = float64(s.BytesMoved) / (1024 * 1024) / elapsed.Seconds()
	}

	return s
}

// percentile returns the p-th percentile of sorted latencies.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p*len(sorted) + 99) / 100
	if idx > 0 {
		idx--
	}
	return sorted[idx]
}

// Print writes the human-readable summary to stdout.
func (s Summary) Print() {
	fmt.Printf("run %s  backend=%s\n", s.RunID, s.Backend)
	fmt.Printf("workload: %d ops x %d B over %d resources\n", s.Ops, s.PayloadSize, s.Resources)
	fmt.Printf("outcome:  %d ok, %d io, %d closed, %d timeout\n", s.Success, s.IOErrors, s.Closed, s.Timeouts)
	fmt.Printf("moved:    %d B in %v (%.0f ops/s, %.2f MiB/s)\n", s.BytesMoved, s.Elapsed, s.OpsPerSec, s.MBPerSec)
	fmt.Printf("latency:  min=%v mean=%v median=%v p95=%v p99=%v max=%v\n",
		s.LatMin, s.LatMean, s.LatMedian, s.LatP95, s.LatP99, s.LatMax)
}

// WriteFile dumps the summary in binary form so runs of different backend
// binaries can be compared offline.
func (s Summary) WriteFile(path string) error {
	data, err := binary.Marshal(&s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// ReadFile loads a summary written by WriteFile.
func ReadFile(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read summary: %w", err)
	}
	s := &Summary{}
	if err := binary.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
	}
	return s, nil
}
