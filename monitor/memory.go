package monitor

import (
	"encoding/json"
	"fmt"

	"github.com/prometheus/procfs"
)

const bytesPerMB = 1024 * 1024

// MemorySample is a point-in-time reading of the process memory.
type MemorySample struct {
	RSS uint64 // resident set size, in bytes
	VMS uint64 // virtual memory size, in bytes
}

// MemorySampler reads the memory usage of the current process.
type MemorySampler interface {
	Sample() (MemorySample, error)
}

type procfsSampler struct{}

// NewProcfsSampler returns a sampler reading /proc/self/stat. Sampling fails
// where procfs is not mounted.
func NewProcfsSampler() MemorySampler {
	return procfsSampler{}
}

func (procfsSampler) Sample() (MemorySample, error) {
	p, err := procfs.Self()
	if err != nil {
		return MemorySample{}, err
	}
	st, err := p.Stat()
	if err != nil {
		return MemorySample{}, err
	}
	return MemorySample{RSS: uint64(st.ResidentMemory()), VMS: uint64(st.VirtualMemory())}, nil
}

// MemoryDelta is a memory variation in MB. A delta that could not be sampled is
// not available, which is distinct from a zero delta.
type MemoryDelta struct {
	MB        float64
	Available bool
}

// Unavailable is the delta reported when memory sampling failed.
var Unavailable = MemoryDelta{}

func newDelta(before, after uint64) MemoryDelta {
	return MemoryDelta{MB: (float64(after) - float64(before)) / bytesPerMB, Available: true}
}

func (d MemoryDelta) String() string {
	if !d.Available {
		return "unavailable"
	}
	return fmt.Sprintf("%+.2fMB", d.MB)
}

// MarshalJSON encodes an unavailable delta as the string "unavailable".
func (d MemoryDelta) MarshalJSON() ([]byte, error) {
	if !d.Available {
		return json.Marshal("unavailable")
	}
	return json.Marshal(d.MB)
}

func (d *MemoryDelta) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s != "unavailable" {
			return fmt.Errorf("invalid memory delta %q", s)
		}
		*d = Unavailable
		return nil
	}
	*d = MemoryDelta{Available: true}
	return json.Unmarshal(b, &d.MB)
}
