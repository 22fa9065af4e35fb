package stats

import (
	"sort"

	"github.com/rezzubs/faultforge/internal/logger"
	"github.com/rezzubs/faultforge/internal/metrics"
)

// LoadedExperiment is an experiment together with the file it came from.
type LoadedExperiment struct {
	Path string
	*Experiment
}

// LoadDir loads every experiment file below the given paths. Files that do
// not parse are logged and skipped.
func LoadDir(paths ...string) ([]LoadedExperiment, error) {
	files, err := ExpandPaths(paths)
	if err != nil {
		return nil, err
	}
	var out []LoadedExperiment
	for _, path := range files {
		x, err := Load(path)
		if err != nil {
			logger.Log.Warn("Skipping unreadable experiment", "path", path, "error", err)
			metrics.RecordExperimentLoadError()
			continue
		}
		out = append(out, LoadedExperiment{Path: path, Experiment: x})
	}
	return out, nil
}

// Point is one (bit error rate, mean accuracy) sample of a curve.
type Point struct {
	BER      float64 `json:"ber"`
	Accuracy float64 `json:"accuracy"`
	Entries  int     `json:"entries"`
}

// Summarize groups experiments by category and returns one curve per
// category, sorted by BER. Experiments of one category at the same BER are
// merged, weighting every entry equally.
func Summarize(experiments []*Experiment) map[Category][]Point {
	type acc struct {
		sum float64
		n   int
	}
	groups := make(map[Category]map[float64]*acc)
	for _, x := range experiments {
		if len(x.Entries) == 0 {
			continue
		}
		c := CategoryOf(x.Metadata)
		if groups[c] == nil {
			groups[c] = make(map[float64]*acc)
		}
		ber := x.MeanBitErrorRate()
		a := groups[c][ber]
		if a == nil {
			a = &acc{}
			groups[c][ber] = a
		}
		for _, e := range x.Entries {
			a.sum += e.Accuracy
			a.n++
		}
	}

	out := make(map[Category][]Point, len(groups))
	for c, byBER := range groups {
		points := make([]Point, 0, len(byBER))
		for ber, a := range byBER {
			points = append(points, Point{BER: ber, Accuracy: a.sum / float64(a.n), Entries: a.n})
		}
		sort.Slice(points, func(i, j int) bool { return points[i].BER < points[j].BER })
		out[c] = points
	}
	return out
}
