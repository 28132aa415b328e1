package audio

import "math"

// Sine returns seconds of a pure sine tone at freq Hz with the given peak
// amplitude.
func Sine(freq, seconds, amplitude float64, sampleRate int) []float64 {
	n := sampleCount(seconds, sampleRate)
	out := make([]float64, n)
	step := 2 * math.Pi * freq / float64(sampleRate)
	for i := range out {
		out[i] = amplitude * math.Sin(step*float64(i))
	}
	return out
}

// Silence returns seconds of all-zero samples.
func Silence(seconds float64, sampleRate int) []float64 {
	return make([]float64, sampleCount(seconds, sampleRate))
}

// Concat joins sample slices into a new slice.
func Concat(parts ...[]float64) []float64 {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]float64, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func sampleCount(seconds float64, sampleRate int) int {
	if seconds <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(math.Round(seconds * float64(sampleRate)))
}
