// Package stats records fault injection results and persists them.
//
// An Experiment collects the entries of one configuration: the system and
// scheme metadata, the size of the fault space and one Entry per trial.
package stats

import (
	"maps"

	"github.com/rezzubs/faultforge/internal/faults"
)

// Entry is the outcome of one trial.
type Entry struct {
	Faults   int     `json:"faults"`
	Accuracy float64 `json:"accuracy"`
	// FaultAddresses is optional provenance; StripFaults removes it.
	FaultAddresses []faults.Address `json:"fault_addresses,omitempty"`
}

// FaultCount returns Faults, or the number of recorded addresses for
// entries that only carry addresses.
func (e Entry) FaultCount() int {
	if e.Faults == 0 {
		return len(e.FaultAddresses)
	}
	return e.Faults
}

type Experiment struct {
	Metadata  map[string]string `json:"metadata"`
	TotalBits int               `json:"total_bits"`
	Entries   []Entry           `json:"entries"`
}

func New(metadata map[string]string, totalBits int) *Experiment {
	md := maps.Clone(metadata)
	if md == nil {
		md = map[string]string{}
	}
	return &Experiment{Metadata: md, TotalBits: totalBits}
}

// Record appends a trial. addrs may be nil when addresses are not kept.
func (x *Experiment) Record(accuracy float64, faultCount int, addrs []faults.Address) {
	x.Entries = append(x.Entries, Entry{
		Faults:         faultCount,
		Accuracy:       accuracy,
		FaultAddresses: addrs,
	})
}

// BitErrorRate is the entry's fault count over the size of the fault space.
func (x *Experiment) BitErrorRate(e Entry) float64 {
	if x.TotalBits == 0 {
		return 0
	}
	return float64(e.FaultCount()) / float64(x.TotalBits)
}

// MeanBitErrorRate is the mean fault count over the size of the fault
// space.
func (x *Experiment) MeanBitErrorRate() float64 {
	if len(x.Entries) == 0 || x.TotalBits == 0 {
		return 0
	}
	sum := 0
	for _, e := range x.Entries {
		sum += e.FaultCount()
	}
	return float64(sum) / float64(len(x.Entries)) / float64(x.TotalBits)
}

func (x *Experiment) MeanAccuracy() float64 {
	if len(x.Entries) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range x.Entries {
		sum += e.Accuracy
	}
	return sum / float64(len(x.Entries))
}

// StripFaults drops the fault address lists of all entries. Counts,
// accuracies and metadata are kept.
func (x *Experiment) StripFaults() {
	for i := range x.Entries {
		x.Entries[i].Faults = x.Entries[i].FaultCount()
		x.Entries[i].FaultAddresses = nil
	}
}
