package aov

import "sort"

// Settings selects the AOVs that should be accumulated for a render session.
type Settings struct {
	// If false only the color AOV (plus opacity for transparent
	// backgrounds) is rendered.
	Enable bool `toml:"enable" yaml:"enable"`

	// The AOV displayed by interactive sessions.
	Displayed AOV `toml:"displayed" yaml:"displayed"`

	// Additional AOVs to accumulate.
	Passes []AOV `toml:"passes" yaml:"passes"`

	// Replace the color alpha channel with the opacity AOV.
	Transparent bool `toml:"transparent" yaml:"transparent"`

	// Composite shadow/reflection catcher geometry over the background.
	ShadowCatcher     bool `toml:"shadow_catcher" yaml:"shadow_catcher"`
	ReflectionCatcher bool `toml:"reflection_catcher" yaml:"reflection_catcher"`
}

// Equal returns true if both settings would produce the same set of render
// targets.
func (s Settings) Equal(other Settings) bool {
	if s.Enable != other.Enable ||
		s.Displayed != other.Displayed ||
		s.Transparent != other.Transparent ||
		s.ShadowCatcher != other.ShadowCatcher ||
		s.ReflectionCatcher != other.ReflectionCatcher {
		return false
	}

	a, b := s.sortedPasses(), other.sortedPasses()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Enabled returns the sorted list of AOVs required by these settings. Color
// is always included.
func (s Settings) Enabled() []AOV {
	set := map[AOV]struct{}{Color: {}}
	if s.Transparent {
		set[Opacity] = struct{}{}
	}
	if s.Enable {
		for _, a := range s.Passes {
			if a.Valid() {
				set[a] = struct{}{}
			}
		}
		if s.Displayed.Valid() {
			set[s.Displayed] = struct{}{}
		}
	}
	return sortedSet(set)
}

// DisplayedAOV returns the AOV shown by interactive sessions.
func (s Settings) DisplayedAOV() AOV {
	if !s.Enable || !s.Displayed.Valid() {
		return Color
	}
	return s.Displayed
}

func (s Settings) sortedPasses() []AOV {
	set := make(map[AOV]struct{}, len(s.Passes))
	for _, a := range s.Passes {
		set[a] = struct{}{}
	}
	return sortedSet(set)
}

func sortedSet(set map[AOV]struct{}) []AOV {
	out := make([]AOV, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
