package artifact

import (
	"fmt"
	"strconv"
	"strings"
)

// BuildSpec is the discrete identity of a compiled artifact bundle. Primary
// builds are identified by (analysis, configuration); friend builds by
// (friend configuration, sample type, era). The production tag scoping the
// bundle comes from the remote the cache is bound to.
type BuildSpec struct {
	Analysis    string
	Config      string
	SampleTypes []string
	Eras        []string
	Scopes      []string
	Shifts      string
	Threads     int

	// Friend marks a friend-production build; SampleType and Era then
	// complete the bundle identity.
	Friend     bool
	SampleType string
	Era        string
}

// BundleName returns the tarball file name for the bundle identity.
func (s BuildSpec) BundleName() string {
	if s.Friend {
		return fmt.Sprintf("crown_friend_%s_%s_%s.tar.gz", s.Config, s.SampleType, s.Era)
	}
	return fmt.Sprintf("crown_%s_%s.tar.gz", s.Analysis, s.Config)
}

// args renders the positional argument list handed to the compile script.
// Order is the script's contract; list-valued selectors are passed comma
// separated.
func (s BuildSpec) args(crownPath, installDir, buildDir, bundleName string) []string {
	return []string{
		crownPath,
		s.Analysis,
		s.Config,
		commaSeparated(s.SampleTypes),
		commaSeparated(s.Eras),
		commaSeparated(s.Scopes),
		s.Shifts,
		installDir,
		buildDir,
		bundleName,
		strconv.Itoa(s.Threads),
	}
}

func commaSeparated(values []string) string {
	return strings.Join(values, ",")
}
