package analytics

import (
	"math"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
)

// Forecast methods. arima and neural_network are approximations built on
// smoothing: Holt's linear trend and a linearly weighted moving average.
const (
	MethodMovingAverage        = "moving_average"
	MethodExponentialSmoothing = "exponential_smoothing"
	MethodARIMA                = "arima"
	MethodNeuralNetwork        = "neural_network"
)

// Methods lists the supported forecast methods.
var Methods = []string{MethodMovingAverage, MethodExponentialSmoothing, MethodARIMA, MethodNeuralNetwork}

const (
	minForecastHistory = 3
	maWindow           = 7
	smoothingAlpha     = 0.3
	holtAlpha          = 0.5
	holtBeta           = 0.3
	z95                = 1.96
)

// Forecast is a daily demand projection.
type Forecast struct {
	SKU     string    `json:"sku"`
	Method  string    `json:"method"`
	Horizon int       `json:"horizon_days"`
	Values  []float64 `json:"values"`
	Lower   []float64 `json:"lower"`
	Upper   []float64 `json:"upper"`
	// MAPE is the in-sample mean absolute percentage error of one-step
	// predictions, as a fraction.
	MAPE       float64 `json:"mape"`
	Confidence float64 `json:"confidence"`
	HistoryAvg float64 `json:"history_avg"`
}

// Total is the sum of the projected values.
func (f Forecast) Total() float64 {
	var t float64
	for _, v := range f.Values {
		t += v
	}
	return t
}

// Mean is the average projected daily demand.
func (f Forecast) Mean() float64 {
	if len(f.Values) == 0 {
		return 0
	}
	return f.Total() / float64(len(f.Values))
}

type predictor interface {
	// observe feeds the next actual value and returns the one-step
	// prediction made before seeing it.
	observe(v float64) float64
	// project returns the h-step ahead prediction, h >= 1.
	project(h int) float64
}

// ForecastDemand projects history forward horizon days.
func ForecastDemand(sku string, history []float64, horizon int, method string) (Forecast, error) {
	if len(history) < minForecastHistory {
		return Forecast{}, sserr.Newf(sserr.CodeValidationRange,
			"analytics: forecasting %s needs at least %d days of history, got %d", sku, minForecastHistory, len(history))
	}
	if horizon <= 0 {
		return Forecast{}, sserr.New(sserr.CodeValidationRange, "analytics: horizon must be positive")
	}

	var p predictor
	switch method {
	case MethodMovingAverage:
		p = &movingAverage{window: maWindow, weighted: false}
	case MethodExponentialSmoothing:
		p = &exponential{alpha: smoothingAlpha}
	case MethodARIMA:
		p = &holt{alpha: holtAlpha, beta: holtBeta}
	case MethodNeuralNetwork:
		p = &movingAverage{window: maWindow, weighted: true}
	default:
		return Forecast{}, sserr.Newf(sserr.CodeValidationFormat, "analytics: unknown forecast method %q", method)
	}

	var absPct, sqErr float64
	var n, pctN int
	for i, v := range history {
		pred := p.observe(v)
		if i == 0 {
			continue
		}
		e := v - pred
		sqErr += e * e
		n++
		if v != 0 {
			absPct += math.Abs(e / v)
			pctN++
		}
	}
	sd := 0.0
	if n > 0 {
		sd = math.Sqrt(sqErr / float64(n))
	}
	mape := 0.0
	if pctN > 0 {
		mape = absPct / float64(pctN)
	}

	f := Forecast{
		SKU:        sku,
		Method:     method,
		Horizon:    horizon,
		Values:     make([]float64, horizon),
		Lower:      make([]float64, horizon),
		Upper:      make([]float64, horizon),
		MAPE:       mape,
		Confidence: clamp(1-mape, 0.1, 0.95),
		HistoryAvg: mean(history),
	}
	for h := 1; h <= horizon; h++ {
		v := math.Max(0, p.project(h))
		band := z95 * sd * math.Sqrt(float64(h))
		f.Values[h-1] = v
		f.Lower[h-1] = math.Max(0, v-band)
		f.Upper[h-1] = v + band
	}
	return f, nil
}

type movingAverage struct {
	window   int
	weighted bool
	recent   []float64
}

func (m *movingAverage) level() float64 {
	if len(m.recent) == 0 {
		return 0
	}
	if !m.weighted {
		return mean(m.recent)
	}
	var sum, wsum float64
	for i, v := range m.recent {
		w := float64(i + 1)
		sum += w * v
		wsum += w
	}
	return sum / wsum
}

func (m *movingAverage) observe(v float64) float64 {
	pred := m.level()
	m.recent = append(m.recent, v)
	if len(m.recent) > m.window {
		m.recent = m.recent[1:]
	}
	return pred
}

func (m *movingAverage) project(int) float64 { return m.level() }

type exponential struct {
	alpha  float64
	lvl    float64
	primed bool
}

func (e *exponential) observe(v float64) float64 {
	if !e.primed {
		e.lvl, e.primed = v, true
		return v
	}
	pred := e.lvl
	e.lvl = e.alpha*v + (1-e.alpha)*e.lvl
	return pred
}

func (e *exponential) project(int) float64 { return e.lvl }

type holt struct {
	alpha, beta float64
	lvl, trend  float64
	seen        int
}

func (h *holt) observe(v float64) float64 {
	switch h.seen {
	case 0:
		h.lvl = v
		h.seen++
		return v
	case 1:
		pred := h.lvl
		h.trend = v - h.lvl
		h.lvl = v
		h.seen++
		return pred
	}
	pred := h.lvl + h.trend
	prev := h.lvl
	h.lvl = h.alpha*v + (1-h.alpha)*(h.lvl+h.trend)
	h.trend = h.beta*(h.lvl-prev) + (1-h.beta)*h.trend
	h.seen++
	return pred
}

func (h *holt) project(steps int) float64 { return h.lvl + float64(steps)*h.trend }

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var s float64
	for _, v := range vs {
		s += v
	}
	return s / float64(len(vs))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
