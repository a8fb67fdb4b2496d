package fk

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seistools/arrayfk/array"
)

// sevenSensorGeometry is the reference 7-element circular layout, km.
func sevenSensorGeometry() [][2]float64 {
	return [][2]float64{
		{0, 0},
		{-0.05, 0.07},
		{0.05, 0.07},
		{0.10, 0},
		{0.05, -0.07},
		{-0.05, -0.07},
		{-0.10, 0},
	}
}

// planeWaveChannels synthesizes a coherent plane wave crossing the
// 7-element array from backazimuth 20 degrees at 1.3 s/km: one random
// series, shifted per sensor by the planar-wavefront sample delay.
func planeWaveChannels(seed int64) ([]Channel, time.Time, time.Time) {
	const (
		slowness = 1.3     // s/km
		bazDeg   = 20.0    // degrees clockwise from north
		fs       = 100.0   // Hz
		amp      = 0.00001 // coherent wave amplitude
		length   = 500     // samples of the source series
	)

	geometry := sevenSensorGeometry()
	baz := bazDeg * math.Pi / 180

	rng := rand.New(rand.NewSource(seed))
	wave := make([]float64, length)
	for i := range wave {
		wave[i] = amp * rng.NormFloat64()
	}

	shifts := make([]int, len(geometry))
	maxShift, minShift := 0, 0
	for i, g := range geometry {
		shifts[i] = int(math.Round(fs * slowness * (math.Cos(baz)*g[1] + math.Sin(baz)*g[0])))
		maxShift = max(maxShift, shifts[i])
		minShift = min(minShift, shifts[i])
	}
	maxShift++
	minShift--

	n := length - (maxShift - minShift)
	channels := make([]Channel, len(geometry))
	for i, g := range geometry {
		data := make([]float64, n)
		for s := range data {
			data[s] = wave[s-minShift+shifts[i]]
		}
		channels[i] = Channel{
			Data:       data,
			SampleRate: fs,
			Coordinate: array.XY(g[0], g[1], 0),
		}
	}

	start := time.Unix(0, 0).UTC()
	end := start.Add(time.Duration(float64(n) / fs * float64(time.Second)))
	return channels, start, end
}

func referenceConfig(start, end time.Time) Config {
	return Config{
		WinLen:    2,
		StepFrac:  0.2,
		Grid:      SlownessGrid{XMin: -3, XMax: 3, YMin: -3, YMax: 3, Step: 0.1},
		SembThres: -1e99,
		VelThres:  -1e99,
		FreqLow:   1,
		FreqHigh:  8,
		Start:     start,
		End:       end,
		System:    array.SystemXY,
		Method:    Classic,
	}
}

func TestAnalyzeClassicPlaneWave(t *testing.T) {
	channels, start, end := planeWaveChannels(2348)
	bf, err := NewBeamformer(referenceConfig(start, end))
	require.NoError(t, err)

	results, err := bf.Analyze(context.Background(), channels)
	require.NoError(t, err)
	require.Len(t, results, 6)

	// the winning cell quantizes (sin20, cos20)*1.3 to (0.4, 1.2)
	wantBaz := math.Atan2(0.4, 1.2) * 180 / math.Pi
	wantSlow := math.Hypot(0.4, 1.2)

	for k, res := range results {
		assert.InDelta(t, wantBaz, res.Backazimuth, 1e-6, "window %d", k)
		assert.InDelta(t, wantSlow, res.Slowness, 1e-6, "window %d", k)
		assert.Greater(t, res.RelPower, 0.85, "window %d", k)
		assert.Less(t, res.RelPower, 1.0, "window %d", k)
		assert.Greater(t, res.AbsPower, 0.0, "window %d", k)

		wantTime := start.Add(time.Duration(k) * 400 * time.Millisecond)
		assert.True(t, res.Time.Equal(wantTime), "window %d: got %v want %v", k, res.Time, wantTime)
	}
}

func TestAnalyzeClassicPrewhiten(t *testing.T) {
	channels, start, end := planeWaveChannels(2348)

	cfg := referenceConfig(start, end)
	raw, err := NewBeamformer(cfg)
	require.NoError(t, err)
	cfg.Prewhiten = true
	white, err := NewBeamformer(cfg)
	require.NoError(t, err)

	rawRes, err := raw.Analyze(context.Background(), channels)
	require.NoError(t, err)
	whiteRes, err := white.Analyze(context.Background(), channels)
	require.NoError(t, err)
	require.Len(t, whiteRes, len(rawRes))

	for k := range rawRes {
		// prewhitening changes the relative surface, not the absolute
		// power of the winning cell
		assert.InDelta(t, rawRes[k].AbsPower, whiteRes[k].AbsPower, rawRes[k].AbsPower*1e-9, "window %d", k)
		assert.InDelta(t, rawRes[k].Backazimuth, whiteRes[k].Backazimuth, 1e-6, "window %d", k)

		// relative power from unit-magnitude spectra stays normalized
		assert.Greater(t, whiteRes[k].RelPower, 0.0)
		assert.LessOrEqual(t, whiteRes[k].RelPower, 1.0)
	}
}

func TestAnalyzeCapon(t *testing.T) {
	channels, start, end := planeWaveChannels(2348)
	cfg := referenceConfig(start, end)
	cfg.Method = Capon

	bf, err := NewBeamformer(cfg)
	require.NoError(t, err)

	results, err := bf.Analyze(context.Background(), channels)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for k, res := range results {
		assert.False(t, math.IsNaN(res.AbsPower), "window %d", k)
		assert.False(t, math.IsInf(res.AbsPower, 0), "window %d", k)
		assert.GreaterOrEqual(t, res.AbsPower, 0.0, "window %d", k)
		assert.Equal(t, res.AbsPower, res.RelPower, "window %d", k)
		assert.GreaterOrEqual(t, res.Slowness, 0.0)
		assert.GreaterOrEqual(t, res.Backazimuth, 0.0)
		assert.Less(t, res.Backazimuth, 360.0)
	}
}

func TestAnalyzeCaponPrewhiten(t *testing.T) {
	channels, start, end := planeWaveChannels(2348)
	cfg := referenceConfig(start, end)
	cfg.Method = Capon
	cfg.Prewhiten = true

	bf, err := NewBeamformer(cfg)
	require.NoError(t, err)

	results, err := bf.Analyze(context.Background(), channels)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for k, res := range results {
		// relative power tracks the whitened surface, absolute power the
		// raw covariance: two distinct columns, unlike the raw Capon run
		assert.NotEqual(t, res.RelPower, res.AbsPower, "window %d", k)
		assert.False(t, math.IsNaN(res.RelPower), "window %d", k)
		assert.False(t, math.IsNaN(res.AbsPower), "window %d", k)
		assert.GreaterOrEqual(t, res.RelPower, 0.0, "window %d", k)
		assert.GreaterOrEqual(t, res.AbsPower, 0.0, "window %d", k)
	}
}

func TestAnalyzeIdempotent(t *testing.T) {
	channels, start, end := planeWaveChannels(99)
	bf, err := NewBeamformer(referenceConfig(start, end))
	require.NoError(t, err)

	first, err := bf.Analyze(context.Background(), channels)
	require.NoError(t, err)
	second, err := bf.Analyze(context.Background(), channels)
	require.NoError(t, err)

	// bit-identical regardless of worker scheduling
	require.Equal(t, first, second)
}

func TestAnalyzeDropPolicy(t *testing.T) {
	channels, start, end := planeWaveChannels(2348)

	cfg := referenceConfig(start, end)
	cfg.SembThres = 2 // semblance is bounded by 1, nothing passes
	bf, err := NewBeamformer(cfg)
	require.NoError(t, err)

	results, err := bf.Analyze(context.Background(), channels)
	require.NoError(t, err)
	assert.Empty(t, results)

	cfg = referenceConfig(start, end)
	cfg.VelThres = 1e9 // apparent velocity gate nothing can pass
	bf, err = NewBeamformer(cfg)
	require.NoError(t, err)

	results, err = bf.Analyze(context.Background(), channels)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAnalyzeGeographicCoordinates(t *testing.T) {
	channels, start, end := planeWaveChannels(2348)

	// same physical array, geographic description
	llChannels := make([]Channel, len(channels))
	for i, ch := range channels {
		lon, lat := array.KMToLonLat(0, 0, ch.Coordinate.X, ch.Coordinate.Y)
		llChannels[i] = Channel{
			Data:       ch.Data,
			SampleRate: ch.SampleRate,
			Coordinate: array.LonLat(lon, lat, 0),
		}
	}

	xyCfg := referenceConfig(start, end)
	llCfg := referenceConfig(start, end)
	llCfg.System = array.SystemLonLat

	xyBf, err := NewBeamformer(xyCfg)
	require.NoError(t, err)
	llBf, err := NewBeamformer(llCfg)
	require.NoError(t, err)

	xyRes, err := xyBf.Analyze(context.Background(), channels)
	require.NoError(t, err)
	llRes, err := llBf.Analyze(context.Background(), llChannels)
	require.NoError(t, err)

	require.Len(t, llRes, len(xyRes))
	for k := range xyRes {
		assert.InDelta(t, xyRes[k].Backazimuth, llRes[k].Backazimuth, 1e-6, "window %d", k)
		assert.InDelta(t, xyRes[k].Slowness, llRes[k].Slowness, 1e-6, "window %d", k)
		assert.InDelta(t, xyRes[k].RelPower, llRes[k].RelPower, 1e-6, "window %d", k)
	}
}

func TestAnalyzeCancellation(t *testing.T) {
	channels, start, end := planeWaveChannels(2348)
	bf, err := NewBeamformer(referenceConfig(start, end))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = bf.Analyze(ctx, channels)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeSingleWorkerMatchesParallel(t *testing.T) {
	channels, start, end := planeWaveChannels(7)

	serial := referenceConfig(start, end)
	serial.Workers = 1
	parallel := referenceConfig(start, end)
	parallel.Workers = 8

	sBf, err := NewBeamformer(serial)
	require.NoError(t, err)
	pBf, err := NewBeamformer(parallel)
	require.NoError(t, err)

	sRes, err := sBf.Analyze(context.Background(), channels)
	require.NoError(t, err)
	pRes, err := pBf.Analyze(context.Background(), channels)
	require.NoError(t, err)

	require.Equal(t, sRes, pRes)
}

func TestNewBeamformerValidation(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	end := start.Add(10 * time.Second)
	valid := referenceConfig(start, end)

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero_win_len", func(c *Config) { c.WinLen = 0 }},
		{"negative_step_frac", func(c *Config) { c.StepFrac = -0.5 }},
		{"step_frac_above_one", func(c *Config) { c.StepFrac = 1.5 }},
		{"bad_grid", func(c *Config) { c.Grid.Step = 0 }},
		{"inverted_band", func(c *Config) { c.FreqLow = 8; c.FreqHigh = 1 }},
		{"zero_freq_low", func(c *Config) { c.FreqLow = 0 }},
		{"end_before_start", func(c *Config) { c.End = c.Start.Add(-time.Second) }},
		{"unknown_method", func(c *Config) { c.Method = Method(9) }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			_, err := NewBeamformer(cfg)
			require.Error(t, err)
		})
	}
}

func TestAnalyzeDegenerateInputs(t *testing.T) {
	channels, start, end := planeWaveChannels(2348)

	t.Run("sample_rate_mismatch", func(t *testing.T) {
		mixed := make([]Channel, len(channels))
		copy(mixed, channels)
		mixed[3].SampleRate = 50

		bf, err := NewBeamformer(referenceConfig(start, end))
		require.NoError(t, err)

		_, err = bf.Analyze(context.Background(), mixed)
		require.Error(t, err)
		var degenerate *DegenerateWindowError
		assert.True(t, errors.As(err, &degenerate))
	})

	t.Run("band_above_nyquist_resolution", func(t *testing.T) {
		cfg := referenceConfig(start, end)
		cfg.FreqLow = 49.9
		cfg.FreqHigh = 49.95

		bf, err := NewBeamformer(cfg)
		require.NoError(t, err)

		_, err = bf.Analyze(context.Background(), channels)
		require.Error(t, err)
		var degenerate *DegenerateWindowError
		assert.True(t, errors.As(err, &degenerate))
	})

	t.Run("too_few_channels", func(t *testing.T) {
		bf, err := NewBeamformer(referenceConfig(start, end))
		require.NoError(t, err)

		_, err = bf.Analyze(context.Background(), channels[:2])
		require.Error(t, err)
		var geomErr *array.InvalidGeometryError
		assert.True(t, errors.As(err, &geomErr))
	})
}

func TestAnalyzeNoFullWindow(t *testing.T) {
	channels, start, _ := planeWaveChannels(2348)

	cfg := referenceConfig(start, start.Add(time.Second))
	cfg.WinLen = 2 // longer than the configured span

	bf, err := NewBeamformer(cfg)
	require.NoError(t, err)

	results, err := bf.Analyze(context.Background(), channels)
	require.NoError(t, err)
	assert.Empty(t, results)
}
