package results

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergev/stim/trial"
	"github.com/sergev/stim/waveform"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func multiplierTemplates() []trial.Template {
	var out []trial.Template
	for i := 1; i <= 9; i++ {
		out = append(out, trial.Template{
			Waveform:   waveform.Wavelet,
			Frequency:  10000,
			Multiplier: float64(i) / 10,
			Relative:   true,
		})
	}
	return out
}

func TestCalibrationSessionDataset(t *testing.T) {
	specs := trial.Expand(multiplierTemplates(), 3)
	require.Len(t, specs, 27)

	seq := trial.NewSequencer(specs, rand.New(rand.NewPCG(34, 1)))
	seq.Shuffle()
	for !seq.Done() {
		spec, err := seq.Next()
		require.NoError(t, err)
		require.NoError(t, seq.Record(spec.Index, float64(spec.Index)+0.5))
	}

	id := Identity{Participant: "P1", Session: "S1", Age: 34, Sex: "Male"}
	cal := &Calibration{BaselineMeasure: 2, ThresholdAmplitude: 40, ThresholdMeasure: 7.5}
	ds := NewDataset(id, cal, nil, seq.Records())

	dir := t.TempDir()
	rec := NewRecorder(dir, Calibrated{})
	require.NoError(t, rec.Check(id))
	path, err := rec.Write(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "P1_S1.csv"), path)

	lines := readLines(t, path)
	require.Len(t, lines, 6+27)
	assert.Equal(t, "Participant, Session, Age, Sex", lines[0])
	assert.Equal(t, "P1, S1, 34, Male", lines[1])
	assert.Equal(t, "", lines[2])
	assert.Equal(t, "Amplitude, multiplier, measure", lines[3])
	assert.Equal(t, "0, 0.0, 2", lines[4])
	assert.Equal(t, "40, 1.0, 7.5", lines[5])
	for k, line := range lines[6:] {
		m := specs[k].Multiplier
		want := fmt.Sprintf("%d, %s, %s", int(math.Floor(40*m)), formatDecimal(m), formatValue(float64(k)+0.5))
		assert.Equal(t, want, line, "row %d", k)
	}

	err = rec.Check(id)
	assert.ErrorIs(t, err, ErrOutputExists)
}

func TestCheckLeavesExistingFileUntouched(t *testing.T) {
	dir := t.TempDir()
	id := Identity{Participant: "P2", Session: "S1", Age: 20, Sex: "Female"}
	path := id.Path(dir)
	require.NoError(t, os.WriteFile(path, []byte("previous\n"), 0o644))

	rec := NewRecorder(dir, Amplitude{})
	assert.ErrorIs(t, rec.Check(id), ErrOutputExists)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous\n", string(data))
}

func TestWriteFailureReportsIOError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	rec := NewRecorder(filepath.Join(blocker, "out"), Amplitude{})
	ds := Dataset{Identity: Identity{Participant: "P", Session: "S", Age: 1}}
	_, err := rec.Write(context.Background(), ds)

	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr), "got %v", err)
	assert.Equal(t, filepath.Join(blocker, "out", "P_S.csv"), ioErr.Path)
}

func TestAmplitudeLayout(t *testing.T) {
	specs := trial.Expand([]trial.Template{
		{Waveform: waveform.Tonic, Amplitude: 10},
		{Waveform: waveform.Tonic, Amplitude: 20},
	}, 1)
	records := []trial.Record{
		{Spec: specs[0], Values: []float64{1.5}},
		{Spec: specs[1], Values: []float64{3}},
	}
	ds := NewDataset(Identity{Participant: "A", Session: "B", Sex: "Other"}, nil,
		map[string]float64{"Discomfort": 12, "Pain": 18}, records)

	var buf bytes.Buffer
	require.NoError(t, Amplitude{}.Encode(&buf, ds))
	want := "Participant, Session, Age, Sex\n" +
		"A, B, , Other\n" +
		"\n" +
		"Discomfort, Pain\n" +
		"12, 18\n" +
		"\n" +
		"Amplitude, Measurement\n" +
		"10, 1.5\n" +
		"20, 3\n"
	assert.Equal(t, want, buf.String())
}

func TestThresholdLayoutAggregatesByWaveform(t *testing.T) {
	specs := trial.Expand([]trial.Template{
		{Waveform: waveform.Tonic, Amplitude: 5},
		{Waveform: waveform.Russian, Amplitude: 5},
		{Waveform: waveform.Wavelet, Amplitude: 5},
	}, 2)
	values := func(base float64) []float64 {
		v := make([]float64, 9)
		for i := range v {
			v[i] = base + float64(i)
		}
		return v
	}
	records := []trial.Record{
		{Spec: specs[0], Values: values(1)},
		{Spec: specs[1], Values: values(10)},
		{Spec: specs[3], Values: values(3)},
	}
	ds := NewDataset(Identity{Participant: "X", Session: "1"}, nil, nil, records)

	var buf bytes.Buffer
	require.NoError(t, Threshold{}.Encode(&buf, ds))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Waveform, Perception, Sensory, Motor, Discomfort, Pain, Pain Score, Electrode Pain, Paraesthesia Pain, Motor Pain", lines[0])
	assert.Equal(t, "Tonic, 2, 3, 4, 5, 6, 7, 8, 9, 10", lines[1])
	assert.Equal(t, "Russian, 10, 11, 12, 13, 14, 15, 16, 17, 18", lines[2])

	ds.Plan = specs
	buf.Reset()
	require.NoError(t, Threshold{}.Encode(&buf, ds))
	lines = strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4, "every planned waveform gets a row")
	assert.Equal(t, "Tonic, 2, 3, 4, 5, 6, 7, 8, 9, 10", lines[1])
	assert.Equal(t, "Wavelet, , , , , , , , , ", lines[3])
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"amplitude", "calibration", "threshold"} {
		v, err := Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, name, v.Name())
	}
	_, err := Lookup("nope")
	assert.Error(t, err)
}

func TestFormatDecimal(t *testing.T) {
	assert.Equal(t, "1.0", formatDecimal(1))
	assert.Equal(t, "0.1", formatDecimal(0.1))
	assert.Equal(t, "0.25", formatDecimal(0.25))
}

type fakeArchive struct {
	names  []string
	bodies []string
	err    error
}

func (f *fakeArchive) Put(_ context.Context, name string, r io.ReadSeeker) error {
	if f.err != nil {
		return f.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.names = append(f.names, name)
	f.bodies = append(f.bodies, string(data))
	return nil
}

func TestRecorderArchives(t *testing.T) {
	archive := &fakeArchive{}
	rec := NewRecorder(t.TempDir(), Amplitude{}, WithArchive(archive))
	ds := Dataset{Identity: Identity{Participant: "P", Session: "S", Age: 3}}
	path, err := rec.Write(context.Background(), ds)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"P_S.csv"}, archive.names)
	assert.Equal(t, []string{string(data)}, archive.bodies)
}

func TestArchiveFailureDoesNotFailWrite(t *testing.T) {
	rec := NewRecorder(t.TempDir(), Amplitude{}, WithArchive(&fakeArchive{err: errors.New("offline")}))
	ds := Dataset{Identity: Identity{Participant: "P", Session: "S"}}
	path, err := rec.Write(context.Background(), ds)
	require.NoError(t, err)
	assert.FileExists(t, path)
}
