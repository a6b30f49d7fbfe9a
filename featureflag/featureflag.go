package featureflag

import (
	"sort"
	"strings"
)

// FeatureFlag is a set of flags that disable parts of the frame pipeline.
type FeatureFlag map[Flag]struct{}

// New returns the feature flags named in flags. Names are trimmed and
// upper-cased so that "disable_pose_pruning" and "DISABLE_POSE_PRUNING" are
// the same flag. Empty names are ignored.
func New(flags []string) FeatureFlag {
	featureFlag := make(FeatureFlag, len(flags))
	for _, f := range flags {
		f = strings.ToUpper(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		featureFlag[Flag(f)] = struct{}{}
	}
	return featureFlag
}

// IsSet reports whether flag is set.
func (f FeatureFlag) IsSet(flag Flag) bool {
	_, ok := f[flag]
	return ok
}

// List returns the set flags in lexical order.
func (f FeatureFlag) List() []string {
	list := make([]string, 0, len(f))
	for flag := range f {
		list = append(list, string(flag))
	}
	sort.Strings(list)
	return list
}

// Unknown returns the set flags that no component reads, in lexical order.
func (f FeatureFlag) Unknown() []string {
	var unknown []string
	for _, flag := range f.List() {
		if _, ok := knownFlags[Flag(flag)]; !ok {
			unknown = append(unknown, flag)
		}
	}
	return unknown
}
