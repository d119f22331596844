package calibration

import (
	"math"
	"sort"

	"github.com/typelens-ai/typelens/internal/model"
)

// MinSamplesPerStratum is the smallest outcome count a stratum needs before
// training produces a model for it. Sparser strata are skipped and serve the
// fallback curve instead.
const MinSamplesPerStratum = 5

// plattSparseCurve is the fixed conservative curve used when Platt scaling
// has too few points to derive anything from the sample.
var plattSparseCurve = []model.Knot{
	{X: 0, Y: 0.30},
	{X: 0.5, Y: 0.55},
	{X: 1, Y: 0.80},
}

// Point is one training observation: raw confidence x, observed correctness y.
type Point struct {
	X float64
	Y float64
}

// TrainIsotonic fits a non-decreasing step curve to the points using
// pool-adjacent-violators. Points sharing an x are first averaged; violating
// adjacent pairs are then pooled via a single forward pass over a stack of
// weighted blocks. Output knots are strictly increasing in x and
// non-decreasing in y.
func TrainIsotonic(points []Point) []model.Knot {
	if len(points) == 0 {
		return nil
	}

	grouped := groupByX(points)

	// Each stack block is the weighted mean of one or more pooled points.
	type block struct {
		x, y, w float64
	}
	stack := make([]block, 0, len(grouped))
	for _, p := range grouped {
		cur := block{x: p.X, y: p.Y, w: p.W}
		for len(stack) > 0 && cur.y < stack[len(stack)-1].y {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			w := top.w + cur.w
			cur = block{
				x: (top.x*top.w + cur.x*cur.w) / w,
				y: (top.y*top.w + cur.y*cur.w) / w,
				w: w,
			}
		}
		stack = append(stack, cur)
	}

	knots := make([]model.Knot, len(stack))
	for i, b := range stack {
		knots[i] = model.Knot{X: b.x, Y: clamp(b.y, 0, 1)}
	}
	return knots
}

// TrainPlatt fits a small parametric sigmoid anchored to the sample mean.
// With fewer than MinSamplesPerStratum points it returns the fixed
// conservative curve rather than extrapolating from noise.
func TrainPlatt(points []Point) []model.Knot {
	if len(points) < MinSamplesPerStratum {
		out := make([]model.Knot, len(plattSparseCurve))
		copy(out, plattSparseCurve)
		return out
	}

	var sumX, sumY float64
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
	}
	meanX := sumX / float64(len(points))
	meanY := clamp(sumY/float64(len(points)), 0.05, 0.95)

	// Curve passes through (meanX, meanY) with the fallback's slope.
	intercept := logit(meanY)
	knots := make([]model.Knot, 0, 11)
	for i := 0; i <= 10; i++ {
		x := float64(i) / 10
		knots = append(knots, model.Knot{
			X: x,
			Y: clamp(sigmoid(intercept+1.2*(x-meanX)), 0, 1),
		})
	}
	return knots
}

// TrainStrata groups outcomes by stratum and trains one curve per stratum
// with enough samples. Returns the trained curves and the strata skipped for
// sparsity.
func TrainStrata(outcomes []model.CalibrationOutcome, method model.CalibrationMethod) (map[string][]model.Knot, []string) {
	byStratum := make(map[string][]Point)
	for _, o := range outcomes {
		y := 0.0
		if o.Correct {
			y = 1.0
		}
		byStratum[o.Stratum] = append(byStratum[o.Stratum], Point{X: o.RawConfidence, Y: y})
	}

	trained := make(map[string][]model.Knot)
	var skipped []string
	for stratum, points := range byStratum {
		if len(points) < MinSamplesPerStratum {
			skipped = append(skipped, stratum)
			continue
		}
		var knots []model.Knot
		if method == model.MethodPlatt {
			knots = TrainPlatt(points)
		} else {
			knots = TrainIsotonic(points)
		}
		if len(knots) > 0 {
			trained[stratum] = knots
		}
	}
	sort.Strings(skipped)
	return trained, skipped
}

type weightedPoint struct {
	X, Y, W float64
}

// groupByX sorts points and averages y over distinct x values, carrying the
// sample count as weight for the PAV pooling step.
func groupByX(points []Point) []weightedPoint {
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	var out []weightedPoint
	for _, p := range sorted {
		if n := len(out); n > 0 && out[n-1].X == p.X {
			out[n-1].Y = (out[n-1].Y*out[n-1].W + p.Y) / (out[n-1].W + 1)
			out[n-1].W++
			continue
		}
		out = append(out, weightedPoint{X: p.X, Y: p.Y, W: 1})
	}
	return out
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}
