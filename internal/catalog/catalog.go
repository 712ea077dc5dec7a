// Package catalog defines the workload catalog: the mapping from
// checkpoint names to the guest commands that drive each workload to its
// region of interest.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"sigs.k8s.io/yaml"
)

var (
	// ErrEmptyCommand indicates a workload with no guest command.
	ErrEmptyCommand = errors.New("workload has an empty command")
	// ErrUnknownWorkload indicates a requested name absent from the catalog.
	ErrUnknownWorkload = errors.New("unknown workload")
)

// Workload names a checkpoint and the guest command that reaches its ROI.
// Workloads are immutable once loaded.
type Workload struct {
	Name    string `json:"name"`
	Command string `json:"command"`
}

// CheckpointName is the snapshot tag a successful job saves for w.
func (w Workload) CheckpointName() string {
	return "chk_" + w.Name
}

const benchDir = "/home/user/benchmarks"

// Default is the built-in catalog: the STREAM, GAP and PARSEC workloads
// deployed in the guest image. A catalog file replaces it entirely.
func Default() []Workload {
	return []Workload{
		{Name: "stream_triad", Command: benchDir + "/stream_triad"},
		{Name: "stream_copy", Command: benchDir + "/stream_copy"},
		{Name: "stream_add", Command: benchDir + "/stream_add"},
		{Name: "stream_scale", Command: benchDir + "/stream_scale"},

		{Name: "gap_bfs", Command: benchDir + "/bfs -f " + benchDir + "/test_graph.sg -n 1"},
		{Name: "gap_sssp", Command: benchDir + "/sssp -f " + benchDir + "/test_graph.sg -n 1"},
		{Name: "gap_bc", Command: benchDir + "/bc -f " + benchDir + "/test_graph.sg -n 1"},
		{Name: "gap_cc", Command: benchDir + "/cc -f " + benchDir + "/test_graph.sg -n 1"},
		{Name: "gap_pr", Command: benchDir + "/pr -f " + benchDir + "/test_graph.sg -n 1"},
		{Name: "gap_tc", Command: benchDir + "/tc -f " + benchDir + "/test_graph.sg -n 1"},

		{Name: "blackscholes", Command: benchDir + "/blackscholes 1 " + benchDir + "/in_4K.txt /dev/null"},
		{Name: "canneal", Command: benchDir + "/canneal 1 100 300 " + benchDir + "/100.nets 8"},
		{Name: "streamcluster", Command: benchDir + "/streamcluster 2 5 1 10 10 5 none /dev/null 1"},
		{Name: "fluidanimate", Command: benchDir + "/fluidanimate 1 1 " + benchDir + "/in_5K.fluid /dev/null"},
		{Name: "swaptions", Command: benchDir + "/swaptions -ns 1 -sm 5000 -nt 1"},
		{Name: "freqmine", Command: benchDir + "/freqmine " + benchDir + "/kosarak.dat 220"},
	}
}

// Load reads a catalog file: a YAML mapping of workload name to guest
// command. Names are returned sorted so batch order is deterministic.
func Load(path string) ([]Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	var entries map[string]string
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	workloads := make([]Workload, 0, len(entries))
	for _, name := range names {
		if entries[name] == "" {
			return nil, fmt.Errorf("%w: %s", ErrEmptyCommand, name)
		}
		workloads = append(workloads, Workload{Name: name, Command: entries[name]})
	}

	return workloads, nil
}

// Filter restricts workloads to the given names, preserving catalog order.
// Requesting a name missing from the catalog is an error.
func Filter(workloads []Workload, names []string) ([]Workload, error) {
	if len(names) == 0 {
		return workloads, nil
	}

	byName := make(map[string]Workload, len(workloads))
	for _, w := range workloads {
		byName[w.Name] = w
	}
	for _, name := range names {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownWorkload, name)
		}
	}

	want := make(map[string]bool, len(names))
	for _, name := range names {
		want[name] = true
	}

	var out []Workload
	for _, w := range workloads {
		if want[w.Name] {
			out = append(out, w)
		}
	}
	return out, nil
}
