// Package kalman implements a scalar Rauch-Tung-Striebel (RTS) smoother over
// a random-walk model (A=C=1), used to smooth noisy CPU%/load/memory
// time-series before they contribute a trend log-odds term.
package kalman

import "math"

const varianceFloor = 1e-10

// Params are the smoother's process/observation noise variances.
type Params struct {
	Q float64 // process noise variance
	R float64 // observation noise variance
}

// AutoTune estimates Q and R from the variance of first differences of the
// observations, for callers that don't want to hand-tune noise parameters.
func AutoTune(observations []float64) Params {
	if len(observations) < 2 {
		return Params{Q: 1e-4, R: 1e-2}
	}
	diffs := make([]float64, len(observations)-1)
	for i := 1; i < len(observations); i++ {
		diffs[i-1] = observations[i] - observations[i-1]
	}
	v := variance(diffs)
	q := math.Max(v/2, varianceFloor)
	r := math.Max(v/2, varianceFloor)
	return Params{Q: q, R: r}
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	v := 0.0
	for _, x := range xs {
		d := x - mean
		v += d * d
	}
	return v / float64(len(xs))
}

// step holds the filtered (forward-pass) state at one time index.
type step struct {
	xFiltered float64
	pFiltered float64
	xPredict  float64
	pPredict  float64
}

// Result is the smoothed output: per-point smoothed mean/variance plus a
// summary. The trend-derived class log-odds contribution is computed
// separately by LogOddsFromTrend.
type Result struct {
	SmoothedMean []float64
	SmoothedVar  []float64
	Summary      Summary
}

// Summary reports aggregate smoother statistics.
type Summary struct {
	Mean             float64
	Std              float64
	Min              float64
	Max              float64
	AvgUncertainty   float64
	Trend            float64 // smoothed_mean[last] - smoothed_mean[first]
	MeanFilteredVar  float64
	MeanSmoothedVar  float64
}

// Smooth runs the forward filter pass followed by the backward RTS pass over
// a scalar observation series, flooring all variances at 1e-10.
func Smooth(observations []float64, p Params) Result {
	n := len(observations)
	if n == 0 {
		return Result{}
	}

	q := math.Max(p.Q, varianceFloor)
	r := math.Max(p.R, varianceFloor)

	steps := make([]step, n)
	x := observations[0]
	pVar := 1.0

	for i := 0; i < n; i++ {
		// Predict (A=1): x_predict = x, p_predict = p + Q.
		xPredict := x
		pPredict := math.Max(pVar+q, varianceFloor)

		// Update (C=1): Kalman gain, innovation.
		k := pPredict / (pPredict + r)
		xFiltered := xPredict + k*(observations[i]-xPredict)
		pFiltered := math.Max((1-k)*pPredict, varianceFloor)

		steps[i] = step{xFiltered: xFiltered, pFiltered: pFiltered, xPredict: xPredict, pPredict: pPredict}
		x = xFiltered
		pVar = pFiltered
	}

	smoothedMean := make([]float64, n)
	smoothedVar := make([]float64, n)
	smoothedMean[n-1] = steps[n-1].xFiltered
	smoothedVar[n-1] = steps[n-1].pFiltered

	meanFilteredVar := steps[n-1].pFiltered

	for i := n - 2; i >= 0; i-- {
		meanFilteredVar += steps[i].pFiltered

		// RTS gain: C_i = P_filtered_i / P_predict_{i+1} (A=1).
		c := steps[i].pFiltered / steps[i+1].pPredict
		smoothedMean[i] = steps[i].xFiltered + c*(smoothedMean[i+1]-steps[i+1].xPredict)
		smoothedVar[i] = math.Max(steps[i].pFiltered+c*c*(smoothedVar[i+1]-steps[i+1].pPredict), varianceFloor)
	}
	meanFilteredVar /= float64(n)

	meanSmoothedVar := 0.0
	for _, v := range smoothedVar {
		meanSmoothedVar += v
	}
	meanSmoothedVar /= float64(n)

	min, max := smoothedMean[0], smoothedMean[0]
	sum := 0.0
	for _, v := range smoothedMean {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	mean := sum / float64(n)

	varSum := 0.0
	for _, v := range smoothedMean {
		d := v - mean
		varSum += d * d
	}
	std := math.Sqrt(varSum / float64(n))

	avgUncertainty := 0.0
	for _, v := range smoothedVar {
		avgUncertainty += math.Sqrt(v)
	}
	avgUncertainty /= float64(n)

	return Result{
		SmoothedMean: smoothedMean,
		SmoothedVar:  smoothedVar,
		Summary: Summary{
			Mean:            mean,
			Std:             std,
			Min:             min,
			Max:             max,
			AvgUncertainty:  avgUncertainty,
			Trend:           smoothedMean[n-1] - smoothedMean[0],
			MeanFilteredVar: meanFilteredVar,
			MeanSmoothedVar: meanSmoothedVar,
		},
	}
}

// LogOddsFromTrend maps a smoothed trend (units/sample) to a class log-odds
// contribution: a sustained rising trend leans toward UsefulBad (runaway),
// a flat or falling trend leans toward Useful/Abandoned neutrally.
func LogOddsFromTrend(trend, scale float64) float64 {
	if scale <= 0 {
		scale = 1
	}
	return math.Tanh(trend/scale) * 1.0
}
