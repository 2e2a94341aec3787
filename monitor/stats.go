package monitor

import (
	"encoding/json"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarizes a sample. StdDev is the population standard deviation.
type Stats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// MemoryStats summarizes memory deltas. It is not available if any of the
// summarized deltas was not.
type MemoryStats struct {
	Stats
	Available bool
}

func (ms MemoryStats) MarshalJSON() ([]byte, error) {
	if !ms.Available {
		return json.Marshal("unavailable")
	}
	return json.Marshal(ms.Stats)
}

// StatSummary summarizes the measurements of one named operation.
type StatSummary struct {
	Operation string      `json:"operation"`
	Runs      int         `json:"runs"`
	Failures  int         `json:"failures,omitempty"`
	TimeMs    Stats       `json:"execution_time_ms"`
	RSSMB     MemoryStats `json:"memory_rss_delta_mb"`
	VMSMB     MemoryStats `json:"memory_vms_delta_mb"`
}

// Summarize computes the summary of ms. No measurement is discarded.
func Summarize(name string, ms []Measurement) StatSummary {
	s := StatSummary{Operation: name, Runs: len(ms)}
	if len(ms) == 0 {
		return s
	}

	times := make([]float64, len(ms))
	rss := make([]float64, 0, len(ms))
	vms := make([]float64, 0, len(ms))
	for i, m := range ms {
		times[i] = m.ExecutionTimeMs
		if m.Err != nil {
			s.Failures++
		}
		if m.RSSDelta.Available {
			rss = append(rss, m.RSSDelta.MB)
		}
		if m.VMSDelta.Available {
			vms = append(vms, m.VMSDelta.MB)
		}
	}

	s.TimeMs = computeStats(times)
	if len(rss) == len(ms) {
		s.RSSMB = MemoryStats{Stats: computeStats(rss), Available: true}
	}
	if len(vms) == len(ms) {
		s.VMSMB = MemoryStats{Stats: computeStats(vms), Available: true}
	}
	return s
}

func computeStats(xs []float64) Stats {
	mean, std := stat.PopMeanStdDev(xs, nil)
	median, err := stats.Median(stats.Float64Data(xs))
	if err != nil {
		median = math.NaN()
	}
	lo, hi := floats.Min(xs), floats.Max(xs)
	// the computed mean of equal values can be off by one ulp
	mean = math.Max(lo, math.Min(hi, mean))
	return Stats{Mean: mean, Median: median, StdDev: std, Min: lo, Max: hi}
}
