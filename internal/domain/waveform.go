package domain

import "math"

// Waveform is one captured oscilloscope trace: raw time/voltage points plus
// the derived peak-to-peak and RMS voltages. Serialization (SVG embedding)
// is handled by external tooling.
type Waveform struct {
	Channel string    `json:"channel"`
	Times   []float64 `json:"x"`
	Volts   []float64 `json:"y"`
	Vpp     float64   `json:"vpp"`
	Vrms    float64   `json:"vrms"`
}

// ComputeStats fills Vpp and Vrms from the raw points. Empty traces leave
// both at zero.
func (w *Waveform) ComputeStats() {
	if len(w.Volts) == 0 {
		w.Vpp, w.Vrms = 0, 0
		return
	}
	min, max := w.Volts[0], w.Volts[0]
	var sumSq float64
	for _, v := range w.Volts {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sumSq += v * v
	}
	w.Vpp = max - min
	w.Vrms = math.Sqrt(sumSq / float64(len(w.Volts)))
}
