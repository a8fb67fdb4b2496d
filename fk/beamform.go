package fk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"runtime"
	"sync"
	"time"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/stat"

	"github.com/seistools/arrayfk/array"
	"github.com/seistools/arrayfk/logging"
	"github.com/seistools/arrayfk/window"
)

// Method selects the grid-search estimator.
type Method int

const (
	// Classic is delay-and-sum beamforming: the coherent sum of the
	// steered channel spectra.
	Classic Method = iota

	// Capon is the minimum-variance (MLM) estimator built on the
	// inverse cross-spectral covariance matrix.
	Capon
)

func (m Method) String() string {
	switch m {
	case Classic:
		return "classic"
	case Capon:
		return "capon"
	default:
		return "unknown"
	}
}

// Channel is one sensor's synchronized time series. All channels of a
// run must share the sample rate and start at Config.Start.
type Channel struct {
	Data       []float64
	SampleRate float64
	Coordinate array.Coordinate
}

// Config holds the sliding-window analysis parameters.
type Config struct {
	// WinLen is the window length in seconds.
	WinLen float64

	// StepFrac advances the window start by WinLen*StepFrac per step.
	StepFrac float64

	// Grid is the trial slowness grid, s/km.
	Grid SlownessGrid

	// SembThres drops windows whose relative power does not exceed it.
	SembThres float64

	// VelThres drops windows whose apparent velocity (km/s) does not
	// exceed it.
	VelThres float64

	// FreqLow and FreqHigh bound the analysis band in Hz.
	FreqLow  float64
	FreqHigh float64

	// Start and End bound the analysis in time. Channel sample 0 is at
	// Start.
	Start time.Time
	End   time.Time

	// Prewhiten normalizes each channel's retained spectrum to unit
	// magnitude before the relative-power surface (Classic) or the
	// covariance matrix (Capon) is formed.
	Prewhiten bool

	// System declares how Channel coordinates are expressed.
	System array.System

	// Method selects Classic or Capon.
	Method Method

	// Workers caps the window worker pool; 0 means runtime.NumCPU().
	Workers int

	// Verbose logs every emitted result row.
	Verbose bool
}

// Result is one emitted row of the analysis, ordered by window start.
type Result struct {
	// Time is the window start.
	Time time.Time

	// RelPower is the winning cell's normalized power: semblance for
	// Classic, the minimum-variance surface value for Capon (the
	// whitened surface when prewhitening is on).
	RelPower float64

	// AbsPower is the winning cell's un-normalized power, always
	// derived from the raw spectra.
	AbsPower float64

	// Backazimuth is degrees clockwise from north, in [0, 360).
	Backazimuth float64

	// Slowness is the magnitude of the winning slowness vector, s/km.
	Slowness float64
}

// Beamformer runs sliding-window frequency-wavenumber analysis over a
// sensor array.
type Beamformer struct {
	cfg    Config
	logger logging.Logger
}

// NewBeamformer validates the configuration.
func NewBeamformer(cfg Config) (*Beamformer, error) {
	if err := cfg.Grid.Validate(); err != nil {
		return nil, err
	}
	if cfg.WinLen <= 0 {
		return nil, fmt.Errorf("window length must be positive, got %g", cfg.WinLen)
	}
	if cfg.StepFrac <= 0 || cfg.StepFrac > 1 {
		return nil, fmt.Errorf("step fraction must be in (0, 1], got %g", cfg.StepFrac)
	}
	if cfg.FreqLow <= 0 || cfg.FreqHigh <= cfg.FreqLow {
		return nil, &InvalidGridError{Reason: fmt.Sprintf("empty frequency band [%g, %g]", cfg.FreqLow, cfg.FreqHigh)}
	}
	if !cfg.End.After(cfg.Start) {
		return nil, fmt.Errorf("end time %v is not after start time %v", cfg.End, cfg.Start)
	}
	if cfg.Method != Classic && cfg.Method != Capon {
		return nil, fmt.Errorf("unknown method %d", int(cfg.Method))
	}

	return &Beamformer{
		cfg: cfg,
		logger: logging.WithFields(logging.Fields{
			"component": "beamformer",
			"method":    cfg.Method.String(),
		}),
	}, nil
}

// plan holds the per-run quantities shared read-only by all windows.
type plan struct {
	fs     float64
	nsamp  int
	nstep  int
	nfft   int
	deltaf float64
	nlow   int
	nf     int
	numWin int

	steering *Steering
	taper    []float64
}

// Analyze runs the segment - transform - grid-search - emit loop over
// every full window between Start and End. Windows are evaluated
// concurrently; rows are returned ordered by window start time.
// Windows that fail per-window (degenerate data, or Capon covariance
// singular at every bin) are excluded and logged, not fatal.
func (b *Beamformer) Analyze(ctx context.Context, channels []Channel) ([]Result, error) {
	if len(channels) == 0 {
		return nil, &array.InvalidGeometryError{Reason: "no channels", Sensors: 0}
	}

	coords := make([]array.Coordinate, len(channels))
	for i, ch := range channels {
		coords[i] = ch.Coordinate
	}
	geom, err := array.Normalize(coords, b.cfg.System)
	if err != nil {
		return nil, err
	}

	p, err := b.plan(channels, geom)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("analysis plan", logging.Fields{
		"windows":   p.numWin,
		"nsamp":     p.nsamp,
		"nfft":      p.nfft,
		"bins":      p.nf,
		"freq_step": p.deltaf,
	})

	if p.numWin == 0 {
		b.logger.Warn("no full window fits the configured time span")
		return nil, nil
	}

	type winOut struct {
		res  Result
		keep bool
		err  error
	}
	outs := make([]winOut, p.numWin)

	workers := b.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, p.numWin)

	jobs := make(chan int, p.numWin)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scratch := newScratch(len(channels), p)
			for k := range jobs {
				if ctx.Err() != nil {
					return
				}
				res, keep, err := b.processWindow(k, channels, p, scratch)
				outs[k] = winOut{res: res, keep: keep, err: err}
			}
		}()
	}
	for k := 0; k < p.numWin; k++ {
		jobs <- k
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]Result, 0, p.numWin)
	for k, out := range outs {
		if out.err != nil {
			var degenerate *DegenerateWindowError
			if errors.As(out.err, &degenerate) {
				b.logger.Warn("window excluded", logging.Fields{
					"window": k,
					"reason": degenerate.Reason,
				})
				continue
			}
			return nil, out.err
		}
		if !out.keep {
			continue
		}
		if b.cfg.Verbose {
			b.logger.Info("beam result", logging.Fields{
				"time":        out.res.Time,
				"rel_power":   out.res.RelPower,
				"abs_power":   out.res.AbsPower,
				"backazimuth": out.res.Backazimuth,
				"slowness":    out.res.Slowness,
			})
		}
		results = append(results, out.res)
	}
	return results, nil
}

// plan derives window geometry, the retained frequency bins, and the
// steering table for this run.
func (b *Beamformer) plan(channels []Channel, geom *array.Geometry) (*plan, error) {
	fs := channels[0].SampleRate
	minLen := len(channels[0].Data)
	for i, ch := range channels {
		if ch.SampleRate != fs {
			return nil, &DegenerateWindowError{
				Window: -1,
				Reason: fmt.Sprintf("sample rate of channel %d (%g Hz) differs from channel 0 (%g Hz)", i, ch.SampleRate, fs),
			}
		}
		minLen = min(minLen, len(ch.Data))
	}
	if fs <= 0 {
		return nil, &DegenerateWindowError{Window: -1, Reason: fmt.Sprintf("non-positive sample rate %g", fs)}
	}

	nsamp := int(b.cfg.WinLen * fs)
	if nsamp < 2 {
		return nil, &DegenerateWindowError{
			Window: -1,
			Reason: fmt.Sprintf("window of %g s holds %d samples at %g Hz", b.cfg.WinLen, nsamp, fs),
		}
	}
	nstep := int(float64(nsamp) * b.cfg.StepFrac)
	if nstep < 1 {
		nstep = 1
	}

	nfft := nextPow2(nsamp)
	deltaf := fs / float64(nfft)

	// retain bins inside the band, excluding DC and Nyquist
	nlow := max(1, int(b.cfg.FreqLow/deltaf+0.5))
	nhigh := min(nfft/2-1, int(b.cfg.FreqHigh/deltaf+0.5))
	nf := nhigh - nlow + 1
	if nf < 1 {
		return nil, &DegenerateWindowError{
			Window: -1,
			Reason: fmt.Sprintf("no FFT bins in band [%g, %g] Hz at resolution %g Hz", b.cfg.FreqLow, b.cfg.FreqHigh, deltaf),
		}
	}

	taper, err := window.NewCosineTaper(nsamp, window.DefaultFraction)
	if err != nil {
		return nil, err
	}

	p := &plan{
		fs:       fs,
		nsamp:    nsamp,
		nstep:    nstep,
		nfft:     nfft,
		deltaf:   deltaf,
		nlow:     nlow,
		nf:       nf,
		steering: NewSteering(geom, b.cfg.Grid, nlow, nf, deltaf),
		taper:    taper.Coefficients(),
	}

	// count full windows: the slice must fit every channel and the
	// window plus one step must stay inside [Start, End]
	span := b.cfg.End.Sub(b.cfg.Start)
	bound := secondsToDuration(float64(nsamp+nstep) / fs)
	for k := 0; ; k++ {
		offset := k * nstep
		if offset+nsamp > minLen {
			break
		}
		if secondsToDuration(float64(offset)/fs)+bound > span {
			break
		}
		p.numWin++
	}
	return p, nil
}

// scratch is per-worker reusable state.
type scratch struct {
	padded   []float64
	ft       [][]complex128
	white    [][]complex128
	rbuf     []complex128
	power    []float64
	rawPower []float64
}

func newScratch(nstat int, p *plan) *scratch {
	cells := p.steering.grid.NumX() * p.steering.grid.NumY()
	s := &scratch{
		padded:   make([]float64, p.nfft),
		ft:       make([][]complex128, nstat),
		white:    make([][]complex128, nstat),
		rbuf:     make([]complex128, nstat*nstat),
		power:    make([]float64, cells),
		rawPower: make([]float64, cells),
	}
	for i := range s.ft {
		s.ft[i] = make([]complex128, p.nf)
		s.white[i] = make([]complex128, p.nf)
	}
	return s
}

// processWindow evaluates one window. keep is false when the winning
// cell does not pass the power thresholds (drop policy).
func (b *Beamformer) processWindow(k int, channels []Channel, p *plan, sc *scratch) (Result, bool, error) {
	offset := k * p.nstep
	nstat := len(channels)

	// transform: demean, taper, zero-pad, FFT, retain band
	for i, ch := range channels {
		seg := ch.Data[offset : offset+p.nsamp]
		mean := stat.Mean(seg, nil)
		for n := 0; n < p.nsamp; n++ {
			sc.padded[n] = (seg[n] - mean) * p.taper[n]
		}
		for n := p.nsamp; n < p.nfft; n++ {
			sc.padded[n] = 0
		}
		spec := fft.FFTReal(sc.padded)
		copy(sc.ft[i], spec[p.nlow:p.nlow+p.nf])
	}

	var dpow float64
	for i := 0; i < nstat; i++ {
		for f := 0; f < p.nf; f++ {
			v := sc.ft[i][f]
			dpow += real(v)*real(v) + imag(v)*imag(v)
		}
	}
	dpow *= float64(nstat)
	if dpow == 0 {
		return Result{}, false, &DegenerateWindowError{Window: k, Reason: "window carries no signal power"}
	}

	if b.cfg.Prewhiten {
		for i := 0; i < nstat; i++ {
			for f := 0; f < p.nf; f++ {
				if mag := cmplx.Abs(sc.ft[i][f]); mag > 0 {
					sc.white[i][f] = sc.ft[i][f] / complex(mag, 0)
				} else {
					sc.white[i][f] = 0
				}
			}
		}
	}

	var relPower, absPower float64
	var bestIx, bestIy int
	var err error
	switch b.cfg.Method {
	case Classic:
		relPower, absPower, bestIx, bestIy = b.classicSearch(p, sc, nstat, dpow)
	case Capon:
		relPower, absPower, bestIx, bestIy, err = b.caponSearch(k, p, sc, nstat)
		if err != nil {
			return Result{}, false, err
		}
	}

	sx := b.cfg.Grid.SxAt(bestIx)
	sy := b.cfg.Grid.SyAt(bestIy)
	slowness := math.Hypot(sx, sy)
	if slowness < 1e-8 {
		slowness = 1e-8
	}
	backazimuth := math.Atan2(sx, sy) * 180 / math.Pi
	if backazimuth < 0 {
		backazimuth += 360
	}

	keep := relPower > b.cfg.SembThres && 1/slowness > b.cfg.VelThres
	res := Result{
		Time:        b.cfg.Start.Add(secondsToDuration(float64(offset) / p.fs)),
		RelPower:    relPower,
		AbsPower:    absPower,
		Backazimuth: backazimuth,
		Slowness:    slowness,
	}
	return res, keep, nil
}

// classicSearch evaluates the delay-and-sum power surface and returns
// the winning cell. Ties keep the first cell in grid iteration order.
func (b *Beamformer) classicSearch(p *plan, sc *scratch, nstat int, dpow float64) (relPower, absPower float64, bestIx, bestIy int) {
	numX, numY := b.cfg.Grid.NumX(), b.cfg.Grid.NumY()
	relPower = math.Inf(-1)

	for ix := 0; ix < numX; ix++ {
		for iy := 0; iy < numY; iy++ {
			var abs, rel float64
			for f := 0; f < p.nf; f++ {
				phase := p.steering.Phase(f, ix, iy)
				var beam complex128
				for i := 0; i < nstat; i++ {
					beam += phase[i] * sc.ft[i][f]
				}
				abs += real(beam)*real(beam) + imag(beam)*imag(beam)
				if b.cfg.Prewhiten {
					var beamW complex128
					for i := 0; i < nstat; i++ {
						beamW += phase[i] * sc.white[i][f]
					}
					rel += real(beamW)*real(beamW) + imag(beamW)*imag(beamW)
				}
			}
			if b.cfg.Prewhiten {
				rel /= float64(p.nf * nstat * nstat)
			} else {
				rel = abs / dpow
			}
			if rel > relPower {
				relPower, absPower = rel, abs
				bestIx, bestIy = ix, iy
			}
		}
	}
	return relPower, absPower, bestIx, bestIy
}

// caponSearch evaluates the minimum-variance power surface. Bins whose
// covariance cannot be factorized are skipped; a window where every bin
// fails is degenerate. Without prewhitening the relative and absolute
// columns carry the same surface value; with prewhitening the search
// runs on the whitened surface while the absolute power is taken from
// the raw covariance at the winning cell.
func (b *Beamformer) caponSearch(k int, p *plan, sc *scratch, nstat int) (relPower, absPower float64, bestIx, bestIy int, err error) {
	numX, numY := b.cfg.Grid.NumX(), b.cfg.Grid.NumY()
	for i := range sc.power {
		sc.power[i] = 0
		sc.rawPower[i] = 0
	}

	spectra := sc.ft
	if b.cfg.Prewhiten {
		spectra = sc.white
	}

	goodBins, rawBins := 0, 0
	for f := 0; f < p.nf; f++ {
		if b.binPower(k, p, sc, spectra, f, nstat, sc.power) {
			goodBins++
		}
		if b.cfg.Prewhiten && b.binPower(k, p, sc, sc.ft, f, nstat, sc.rawPower) {
			rawBins++
		}
	}
	if goodBins == 0 {
		return 0, 0, 0, 0, &DegenerateWindowError{
			Window: k,
			Reason: "covariance matrix singular at every retained frequency bin",
		}
	}

	best := math.Inf(-1)
	for ix := 0; ix < numX; ix++ {
		for iy := 0; iy < numY; iy++ {
			if v := sc.power[ix*numY+iy] / float64(goodBins); v > best {
				best = v
				bestIx, bestIy = ix, iy
			}
		}
	}

	absPower = best
	if b.cfg.Prewhiten {
		absPower = 0
		if rawBins > 0 {
			absPower = sc.rawPower[bestIx*numY+bestIy] / float64(rawBins)
		}
	}
	return best, absPower, bestIx, bestIy, nil
}

// binPower adds one retained bin's inverse-covariance surface to dst.
// It reports false when the bin's covariance cannot be factorized.
func (b *Beamformer) binPower(k int, p *plan, sc *scratch, spectra [][]complex128, f, nstat int, dst []float64) bool {
	numX, numY := b.cfg.Grid.NumX(), b.cfg.Grid.NumY()

	crossSpectral(sc.rbuf, spectra, f, nstat)
	if !pinvHermitian(sc.rbuf, nstat) {
		serr := &SingularCovarianceError{Bin: p.nlow + f, Freq: p.steering.Freq(f)}
		b.logger.Debug("skipping frequency bin", logging.Fields{
			"window": k,
			"error":  serr.Error(),
		})
		return false
	}
	for ix := 0; ix < numX; ix++ {
		for iy := 0; iy < numY; iy++ {
			denom := quadraticForm(sc.rbuf, p.steering.Phase(f, ix, iy), nstat)
			if denom > 0 {
				dst[ix*numY+iy] += 1 / denom
			}
		}
	}
	return true
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
