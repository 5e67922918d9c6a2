// Package branch partitions a dataset's input files into numbered units of
// parallel work. The mapping is purely positional: given the same upstream
// file ordering and scope selection it reproduces the same branch indices
// and file counters on every invocation, which callers rely on for
// idempotent re-submission of failed branches.
package branch

import (
	"fmt"
	"strings"

	"github.com/harrypuuter/KingMaker/model/sample"
)

// WorkUnit is one branch of parallel processing: one input file processed
// under one scope. FileCounter groups all scopes originating from the same
// source file under one logical output index.
type WorkUnit struct {
	Index       int
	Scope       string
	Sample      sample.Sample
	InputPath   string
	FileCounter int
}

// Mapper assigns branches for one dataset.
type Mapper struct {
	// Scopes is the ordered processing-scope selection; its length is the
	// divisor for the per-scope file counter.
	Scopes sample.Scopes
	// Sample identifies the dataset all units belong to.
	Sample sample.Sample
	// BasePath, when set, is prepended to every eligible input path to form
	// the absolute input location (the remote base the scheduler-side
	// payload reads from).
	BasePath string
	// Suffix is the data-file suffix eligible inputs must carry;
	// defaults to ".root".
	Suffix string
}

const defaultSuffix = ".root"

// Map assigns a branch to every eligible input file, in upstream order.
// Files without the data suffix are skipped, as are files whose scope (the
// second-to-last path segment) is not among the selected scopes.
func (m Mapper) Map(inputs []string) []WorkUnit {
	suffix := m.Suffix
	if suffix == "" {
		suffix = defaultSuffix
	}
	var units []WorkUnit
	counter := 0
	for _, input := range inputs {
		if !strings.HasSuffix(input, suffix) {
			continue
		}
		scope, ok := scopeOf(input)
		if !ok || !m.Scopes.Contains(scope) {
			continue
		}
		units = append(units, WorkUnit{
			Index:       counter,
			Scope:       scope,
			Sample:      m.Sample,
			InputPath:   m.BasePath + input,
			FileCounter: counter / len(m.Scopes),
		})
		counter++
	}
	return units
}

// scopeOf extracts the processing scope from the input path structure:
// inputs are laid out as .../<scope>/<file>.
func scopeOf(input string) (string, bool) {
	segments := strings.Split(input, "/")
	if len(segments) < 2 {
		return "", false
	}
	return segments[len(segments)-2], true
}

// Outputs returns the remote-relative output names a unit produces for a
// friend production: the per-branch data file, keyed by the file counter
// rather than the raw branch index, plus the once-per-source quantities-map
// descriptor emitted only for the first file of the dataset.
func Outputs(unit WorkUnit, friendName string) []string {
	names := []string{
		fmt.Sprintf("%s/%s/%s/%s/%s_%d.root",
			friendName, unit.Sample.Era, unit.Sample.Nick, unit.Scope, unit.Sample.Nick, unit.FileCounter),
	}
	if unit.FileCounter == 0 {
		names = append(names, fmt.Sprintf("%s/%s/%s/%s/%s_%s_%s_quantities_map.json",
			friendName, unit.Sample.Era, unit.Sample.Nick, unit.Scope, unit.Sample.Era, unit.Sample.Nick, unit.Scope))
	}
	return names
}
