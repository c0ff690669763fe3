package audiowm

import (
	"math"
	"testing"
)

func TestDCTRoundTrip(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	coefs := dctII(x)
	back := dctIII(coefs)

	for i := range x {
		if math.Abs(back[i]-x[i]) > 1e-9 {
			t.Fatalf("index %d: got %f, want %f", i, back[i], x[i])
		}
	}
}

func TestDCTPreservesEnergyApproximately(t *testing.T) {
	x := make([]float64, 64)
	for i := range x {
		x[i] = math.Sin(float64(i))
	}
	coefs := dctII(x)

	var inEnergy, outEnergy float64
	for _, v := range x {
		inEnergy += v * v
	}
	for _, v := range coefs {
		outEnergy += v * v
	}
	if math.Abs(inEnergy-outEnergy) > 1e-6 {
		t.Fatalf("orthonormal DCT should preserve energy: in=%f out=%f", inEnergy, outEnergy)
	}
}
