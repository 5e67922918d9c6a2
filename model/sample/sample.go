// Package sample holds the dataset identifiers that distinguish one physical
// input sample from another across the processing pipeline.
package sample

// Sample identifies a dataset: the nick is its unique short name, era the
// data-taking period, and sample type the simulation/data category.
type Sample struct {
	Nick       string `yaml:"nick" json:"nick"`
	Era        string `yaml:"era" json:"era"`
	SampleType string `yaml:"sampletype" json:"sampletype"`
}

// Scopes is an ordered processing-scope selection. Order is significant:
// branch indices and file counters are derived from it.
type Scopes []string

// Contains reports whether the selection includes the given scope.
func (s Scopes) Contains(scope string) bool {
	for _, candidate := range s {
		if candidate == scope {
			return true
		}
	}
	return false
}
