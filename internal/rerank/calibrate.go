package rerank

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Calibration maps raw cross-encoder scores through a 3rd-degree polynomial
// fit to observed (raw, target) score pairs. It tends to improve score
// correlation but can perturb ranking on near-ties, so it is off by default.
type Calibration struct {
	coeffs [4]float64
}

// Apply evaluates the polynomial and clips the result to [0,1].
func (c *Calibration) Apply(score float64) float64 {
	y := c.coeffs[0] + score*(c.coeffs[1]+score*(c.coeffs[2]+score*c.coeffs[3]))
	if y < 0 {
		return 0
	}
	if y > 1 {
		return 1
	}
	return y
}

// FitCubic fits y = c0 + c1 x + c2 x^2 + c3 x^3 to the given pairs by least
// squares, solving the 4x4 normal equations with Gaussian elimination.
func FitCubic(xs, ys []float64) (*Calibration, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("mismatched sample lengths %d and %d", len(xs), len(ys))
	}
	if len(xs) < 4 {
		return nil, fmt.Errorf("need at least 4 samples, got %d", len(xs))
	}

	// Accumulate sums of powers of x up to 6 and x^k * y up to 3.
	var sx [7]float64
	var sxy [4]float64
	for i, x := range xs {
		p := 1.0
		for k := 0; k <= 6; k++ {
			sx[k] += p
			if k <= 3 {
				sxy[k] += p * ys[i]
			}
			p *= x
		}
	}

	var m [4][5]float64
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m[r][c] = sx[r+c]
		}
		m[r][4] = sxy[r]
	}

	// Gaussian elimination with partial pivoting.
	for col := 0; col < 4; col++ {
		pivot := col
		for r := col + 1; r < 4; r++ {
			if abs(m[r][col]) > abs(m[pivot][col]) {
				pivot = r
			}
		}
		if abs(m[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("degenerate calibration set")
		}
		m[col], m[pivot] = m[pivot], m[col]

		for r := 0; r < 4; r++ {
			if r == col {
				continue
			}
			f := m[r][col] / m[col][col]
			for c := col; c < 5; c++ {
				m[r][c] -= f * m[col][c]
			}
		}
	}

	var cal Calibration
	for r := 0; r < 4; r++ {
		cal.coeffs[r] = m[r][4] / m[r][r]
	}
	return &cal, nil
}

type calibrationFile struct {
	Samples [][2]float64 `yaml:"samples"`
}

// LoadCalibration reads a YAML file of [raw, target] score pairs and fits
// the polynomial to them.
func LoadCalibration(path string) (*Calibration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}
	var cf calibrationFile
	if err := yaml.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("parse calibration file: %w", err)
	}

	xs := make([]float64, len(cf.Samples))
	ys := make([]float64, len(cf.Samples))
	for i, s := range cf.Samples {
		xs[i] = s[0]
		ys[i] = s[1]
	}
	return FitCubic(xs, ys)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
