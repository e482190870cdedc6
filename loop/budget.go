package loop

import "math"

// IterationBudget returns the number of progressive steps allotted to a run:
// round(configured * userSamples / effectiveSamples), floored to 1. A zero
// effectiveSamples also yields a budget of 1.
func IterationBudget(configured, userSamples, effectiveSamples uint32) uint32 {
	if effectiveSamples == 0 {
		return 1
	}
	used := math.Round(float64(configured) * float64(userSamples) / float64(effectiveSamples))
	if used < 1 {
		return 1
	}
	return uint32(used)
}

// EffectiveSamples returns the number of samples requested per native render
// call so that every engaged device receives at least one sample.
func EffectiveSamples(deviceCount int, userSamples uint32) uint32 {
	if deviceCount > 0 && uint32(deviceCount) > userSamples {
		return uint32(deviceCount)
	}
	return userSamples
}
