// Package culture provides the ethno-cultural position vector carried by
// communities, and the relations defined between two such vectors.
package culture

import (
	"errors"
	"math"
	"math/rand"
)

// Dimensions is the number of cultural axes.
const Dimensions = 8

var (
	// ErrEmpty is returned when averaging zero cultures.
	ErrEmpty = errors.New("culture: average of empty sequence")

	// ErrWeights is returned when weights don't line up with cultures or sum to zero.
	ErrWeights = errors.New("culture: invalid weights")
)

// Culture is a position in cultural space. Axes nominally run -1.0 to 1.0,
// but drift does not enforce the bound.
type Culture [Dimensions]float64

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Culture) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Agreement returns the dot product of a and b divided by Dimensions.
// Positive means aligned, negative means opposed.
func Agreement(a, b Culture) float64 {
	dot := 0.0
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot / Dimensions
}

// Antagonism is the negation of Agreement.
func Antagonism(a, b Culture) float64 {
	return -Agreement(a, b)
}

// Average returns the component-wise mean of cs.
func Average(cs ...Culture) (Culture, error) {
	var avg Culture
	if len(cs) == 0 {
		return avg, ErrEmpty
	}
	for _, c := range cs {
		for k, v := range c {
			avg[k] += v
		}
	}
	n := float64(len(cs))
	for k := range avg {
		avg[k] /= n
	}
	return avg, nil
}

// WeightedAverage returns the mean of cs with each culture scaled by the
// matching weight.
func WeightedAverage(cs []Culture, weights []float64) (Culture, error) {
	var avg Culture
	if len(cs) == 0 {
		return avg, ErrEmpty
	}
	if len(weights) != len(cs) {
		return avg, ErrWeights
	}

	total := 0.0
	for i, c := range cs {
		w := weights[i]
		if w < 0 {
			return Culture{}, ErrWeights
		}
		total += w
		for k, v := range c {
			avg[k] += v * w
		}
	}
	if total <= 0 {
		return Culture{}, ErrWeights
	}
	for k := range avg {
		avg[k] /= total
	}
	return avg, nil
}

// ShiftTowards moves c magnitude units along the straight line to target.
// Shifting towards an identical culture does nothing.
func (c *Culture) ShiftTowards(target Culture, magnitude float64) {
	dist := Distance(*c, target)
	if dist == 0 {
		return
	}
	scale := magnitude / dist
	for i := range c {
		c[i] += (target[i] - c[i]) * scale
	}
}

// Clamp returns a copy of c with every axis limited to [-1, 1].
func (c Culture) Clamp() Culture {
	for i, v := range c {
		c[i] = math.Max(-1, math.Min(1, v))
	}
	return c
}

// Random draws every axis uniformly from [-1, 1].
func Random(rng *rand.Rand) Culture {
	var c Culture
	for i := range c {
		c[i] = rng.Float64()*2 - 1
	}
	return c
}

// Uniform returns a culture with every axis set to v.
func Uniform(v float64) Culture {
	var c Culture
	for i := range c {
		c[i] = v
	}
	return c
}
