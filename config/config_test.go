package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergev/stim/results"
	"github.com/sergev/stim/waveform"
)

func TestDefaultConfig(t *testing.T) {
	conf, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "amplitude", conf.Default)
	assert.Equal(t, DefaultBaud, conf.Baud)
	assert.Equal(t, 2*time.Second, conf.CommandTimeout.Duration)
	assert.Equal(t, 100*time.Millisecond, conf.ReadTimeout.Duration)
	assert.Equal(t, "Hello", conf.Greeting)
	assert.Equal(t, []string{"amplitude", "hypoglossal", "thresholds", "waveform"}, conf.Names())

	hypo, err := conf.Lookup("hypoglossal")
	require.NoError(t, err)
	plan, err := hypo.Plan()
	require.NoError(t, err)
	assert.True(t, plan.Calibration)
	assert.Equal(t, 3, plan.Repeats)
	assert.Equal(t, []string{"Hyomental", "Tongue"}, plan.Sessions)
	require.Len(t, plan.Trials, 9)
	for i, tmpl := range plan.Trials {
		assert.True(t, tmpl.Relative)
		assert.Equal(t, waveform.Wavelet, tmpl.Waveform)
		assert.InDelta(t, float64(i+1)/10, tmpl.Multiplier, 1e-12)
	}
	v, err := hypo.ResultVariant()
	require.NoError(t, err)
	assert.Equal(t, results.CalibrationVariant, v.Name())

	thresholds, err := conf.Lookup("thresholds")
	require.NoError(t, err)
	plan, err = thresholds.Plan()
	require.NoError(t, err)
	assert.Len(t, plan.Trials, 8)

	def, err := conf.Lookup("")
	require.NoError(t, err)
	assert.Equal(t, "amplitude", def.Name)
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("AppData", home)

	conf, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "amplitude", conf.Default)

	path, err := Path()
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultData(), data)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protocol.yaml")
	body := `
default: bench
output_dir: /data
command_timeout: 500ms
journal: /data/stim.db
archive:
  bucket: lab-results
  path_style: true
experiment:
  - name: bench
    variant: calibration
    calibration: true
    base_amplitude: 30
    duration: 3s
    trial:
      - waveform: wavelet
        frequency: 10000
        multiplier: 0.5
      - waveform: Tonic
        amplitude: 12
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data", conf.OutputDir)
	assert.Equal(t, 500*time.Millisecond, conf.CommandTimeout.Duration)
	assert.Equal(t, DefaultReadTimeout, conf.ReadTimeout.Duration)
	assert.Equal(t, "lab-results", conf.ArchiveConfig().Bucket)
	assert.True(t, conf.ArchiveConfig().PathStyle)

	exp, err := conf.Lookup("bench")
	require.NoError(t, err)
	assert.Equal(t, 1, exp.Repeats)
	assert.Equal(t, 3*time.Second, exp.Duration.Duration)
	plan, err := exp.Plan()
	require.NoError(t, err)
	require.Len(t, plan.Trials, 2)
	assert.Equal(t, waveform.Wavelet, plan.Trials[0].Waveform)
	assert.True(t, plan.Trials[0].Relative)
	assert.False(t, plan.Trials[1].Relative)
	assert.Equal(t, 12, plan.Trials[1].Amplitude)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{
			name: "missing default",
			toml: `[[experiment]]
name = "a"
[[experiment.trial]]
waveform = "Tonic"
amplitude = 1`,
			want: "`default` key",
		},
		{
			name: "unknown default",
			toml: `default = "b"
[[experiment]]
name = "a"
[[experiment.trial]]
waveform = "Tonic"
amplitude = 1`,
			want: `default experiment "b" not found`,
		},
		{
			name: "negative repeats",
			toml: `default = "a"
[[experiment]]
name = "a"
repeats = -1
[[experiment.trial]]
waveform = "Tonic"
amplitude = 1`,
			want: "invalid repeats",
		},
		{
			name: "no trials",
			toml: `default = "a"
[[experiment]]
name = "a"`,
			want: "no trials",
		},
		{
			name: "neither amplitude nor multiplier",
			toml: `default = "a"
[[experiment]]
name = "a"
[[experiment.trial]]
waveform = "Tonic"`,
			want: "needs amplitude or multiplier",
		},
		{
			name: "both amplitude and multiplier",
			toml: `default = "a"
[[experiment]]
name = "a"
calibration = true
[[experiment.trial]]
waveform = "Tonic"
amplitude = 1
multiplier = 0.5`,
			want: "both amplitude and multiplier",
		},
		{
			name: "multiplier without calibration",
			toml: `default = "a"
[[experiment]]
name = "a"
[[experiment.trial]]
waveform = "Tonic"
multiplier = 0.5`,
			want: "without calibration",
		},
		{
			name: "unknown waveform",
			toml: `default = "a"
[[experiment]]
name = "a"
[[experiment.trial]]
waveform = "Square"
amplitude = 1`,
			want: "Square",
		},
		{
			name: "unknown variant",
			toml: `default = "a"
[[experiment]]
name = "a"
variant = "spreadsheet"
[[experiment.trial]]
waveform = "Tonic"
amplitude = 1`,
			want: "unknown result variant",
		},
		{
			name: "bad duration",
			toml: `default = "a"
command_timeout = "soon"`,
			want: "invalid duration",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.toml), false)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q does not mention %q", err, tt.want)
		})
	}
}
