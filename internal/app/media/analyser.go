package media

import (
	"errors"
	"math"
	"math/cmplx"
	"sync"

	"github.com/frostbyte73/core"
	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	vcore "github.com/dkeye/voicecall/internal/core"
)

const (
	FFTSize = 256

	minDecibels = -100.0
	maxDecibels = -30.0
	smoothing   = 0.8
)

var ErrAnalysisUnavailable = errors.New("stream does not expose samples")

// Analyser produces byte frequency data for the latest captured window,
// scaled like a browser AnalyserNode.
type Analyser interface {
	FrequencyBinCount() int
	ByteFrequencyData(dst []uint8)
	Close()
}

// AnalyserFactory builds the analysis context for a stream.
type AnalyserFactory func(stream vcore.MediaStream) (Analyser, error)

type fftAnalyser struct {
	mu       sync.Mutex
	ring     []float64
	pos      int
	smoothed []float64
	blackman []float64

	cancel func()
	closed core.Fuse
}

// NewAnalyser subscribes to the stream's PCM frames.
func NewAnalyser(stream vcore.MediaStream) (Analyser, error) {
	pcm, ok := stream.(vcore.PCMStream)
	if !ok {
		return nil, ErrAnalysisUnavailable
	}
	frames, cancel := pcm.Subscribe(16)
	a := &fftAnalyser{
		ring:     make([]float64, FFTSize),
		smoothed: make([]float64, FFTSize/2),
		blackman: window.Blackman(FFTSize),
		cancel:   cancel,
	}
	go a.consume(frames)
	return a, nil
}

func (a *fftAnalyser) consume(frames <-chan []int16) {
	for {
		select {
		case <-a.closed.Watch():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			a.write(f)
		}
	}
}

func (a *fftAnalyser) write(frame []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range frame {
		a.ring[a.pos] = float64(s) / 32768
		a.pos = (a.pos + 1) % FFTSize
	}
}

func (a *fftAnalyser) FrequencyBinCount() int { return FFTSize / 2 }

func (a *fftAnalyser) ByteFrequencyData(dst []uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()

	x := make([]float64, FFTSize)
	for i := range x {
		x[i] = a.ring[(a.pos+i)%FFTSize] * a.blackman[i]
	}
	spectrum := fft.FFTReal(x)

	for k := 0; k < len(a.smoothed) && k < len(dst); k++ {
		mag := cmplx.Abs(spectrum[k]) / FFTSize
		a.smoothed[k] = smoothing*a.smoothed[k] + (1-smoothing)*mag
		dst[k] = scaleDecibels(a.smoothed[k])
	}
}

func scaleDecibels(mag float64) uint8 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}

func (a *fftAnalyser) Close() {
	if a.closed.IsBroken() {
		return
	}
	a.closed.Break()
	a.cancel()
}

// Level is the mean of byte frequency data normalized to [0,1].
func Level(data []uint8) float64 {
	if len(data) == 0 {
		return 0
	}
	sum := 0
	for _, v := range data {
		sum += int(v)
	}
	return float64(sum) / float64(len(data)) / 255
}
