package vecindex

import "math"

// maxUnitDistance is the largest squared Euclidean distance between two unit
// vectors. Zero-norm vectors under Cosine are placed at this distance from everything.
const maxUnitDistance = 4

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// normalizeInPlace scales v to unit length and reports false when v has zero norm,
// in which case v is left untouched.
func normalizeInPlace(v []float32) bool {
	var norm2 float64
	for _, x := range v {
		norm2 += float64(x) * float64(x)
	}
	if norm2 == 0 {
		return false
	}
	inv := float32(1 / math.Sqrt(norm2))
	for i := range v {
		v[i] *= inv
	}
	return true
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
