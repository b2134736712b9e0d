package storage

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

const (
	runDataPrefix  = "bpi_data_"
	runGraphPrefix = "bpi_graph_"
)

// RunFiles locates the artifacts of one collection run.
type RunFiles struct {
	Stamp string
	Data  string
	Graph string
}

// LatestRun finds the newest bpi_data_<stamp>.json in dir. Stamps sort
// chronologically, so the lexically greatest name wins. ok is false when dir
// holds no run.
func LatestRun(dir string) (RunFiles, bool, error) {
	matches, err := filepath.Glob(filepath.Join(dir, runDataPrefix+"*.json"))
	if err != nil {
		return RunFiles{}, false, fmt.Errorf("list runs: %w", err)
	}
	if len(matches) == 0 {
		return RunFiles{}, false, nil
	}
	sort.Strings(matches)
	latest := matches[len(matches)-1]

	stamp := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(latest), runDataPrefix), ".json")
	return RunFiles{
		Stamp: stamp,
		Data:  latest,
		Graph: GraphFor(latest),
	}, true, nil
}

// GraphFor maps bpi_data_<stamp>.json onto the bpi_graph_<stamp>.png beside
// it. Other names yield "".
func GraphFor(dataPath string) string {
	base := filepath.Base(dataPath)
	if !strings.HasPrefix(base, runDataPrefix) || !strings.HasSuffix(base, ".json") {
		return ""
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(base, runDataPrefix), ".json")
	return filepath.Join(filepath.Dir(dataPath), runGraphPrefix+stamp+".png")
}
