package stats

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rezzubs/faultforge/internal/logger"
	"github.com/rezzubs/faultforge/internal/metrics"
)

// StripResult reports what happened to one file.
type StripResult struct {
	Path    string
	Entries int
	Err     error
}

// ExpandPaths replaces every directory in roots by the regular files below
// it, recursively. Plain files are kept as given.
func ExpandPaths(roots []string) ([]string, error) {
	var out []string
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// StripFaultsPaths strips fault addresses from every experiment file found
// under paths and saves each file in place. Files that fail to load or save
// are logged and skipped; the rest are still processed.
func StripFaultsPaths(paths []string) ([]StripResult, error) {
	files, err := ExpandPaths(paths)
	if err != nil {
		return nil, err
	}

	results := make([]StripResult, 0, len(files))
	for _, path := range files {
		logger.Log.Info("Stripping faults", "path", path)
		res := StripResult{Path: path}

		x, err := Load(path)
		if err != nil {
			logger.Log.Warn("Failed to load experiment", "path", path, "error", err)
			metrics.RecordExperimentLoadError()
			res.Err = err
			results = append(results, res)
			continue
		}
		logger.Log.Debug("Loading finished", "path", path, "entries", len(x.Entries))

		x.StripFaults()
		res.Entries = len(x.Entries)
		if err := x.Save(path); err != nil {
			logger.Log.Error("Failed to save stripped experiment", "path", path, "error", err)
			res.Err = err
		}
		results = append(results, res)
	}
	return results, nil
}
