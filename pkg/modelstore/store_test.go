package modelstore

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyvanazami/sensoriot-anomaly/pkg/dataset"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/detectors/iforest"
)

func trainedDetector(t *testing.T) (*iforest.IsolationForest, *dataset.Frame) {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	frame := dataset.New([]string{"1_F", "1_H"})
	for i := 0; i < 60; i++ {
		temp := 21 + 2*rng.Float64()
		frame.AppendRow([]float64{temp, 50 + temp + rng.Float64()}, int64(i)*60)
	}
	det := iforest.New(iforest.WithTrees(20), iforest.WithSeed(42))
	require.NoError(t, det.Train(frame))
	return det, frame
}

func testMetadata() Metadata {
	return Metadata{
		ModelType:      iforest.TypeTag,
		AUC:            0.91,
		FeatureColumns: []string{"1_F", "1_H"},
		Nodes:          []string{"1"},
		NumRows:        60,
		TrainedAt:      1700000000,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := New(t.TempDir(), nil)
	det, frame := trainedDetector(t)

	wantProbs, err := det.Predict(frame)
	require.NoError(t, err)

	require.NoError(t, store.Save("gw-1", det, testMetadata()))

	loaded, meta, err := store.Load("gw-1")
	require.NoError(t, err)
	assert.Equal(t, testMetadata(), *meta)

	gotProbs, err := loaded.Predict(frame)
	require.NoError(t, err)
	assert.Equal(t, wantProbs, gotProbs)
}

func TestExists(t *testing.T) {
	store := New(t.TempDir(), nil)
	assert.False(t, store.Exists("gw-1"))

	det, _ := trainedDetector(t)
	require.NoError(t, store.Save("gw-1", det, testMetadata()))
	assert.True(t, store.Exists("gw-1"))
	assert.False(t, store.Exists("gw-2"))
}

func TestLoadNotFound(t *testing.T) {
	store := New(t.TempDir(), nil)
	_, _, err := store.Load("gw-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMetadataReadableIndependently(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, nil)
	det, _ := trainedDetector(t)
	require.NoError(t, store.Save("gw-1", det, testMetadata()))

	// Corrupt the model blob; the metadata must still be readable.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gw-1", "model.gob"), []byte("junk"), 0o644))

	meta, err := store.Metadata("gw-1")
	require.NoError(t, err)
	assert.Equal(t, testMetadata(), *meta)

	_, _, err = store.Load("gw-1")
	assert.Error(t, err)
}

func TestSaveRollsBackOnMetadataFailure(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, nil)
	det, _ := trainedDetector(t)

	// Occupy the metadata path with a directory so its rename fails after
	// the model write succeeded.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "gw-1", "metadata.json", "x"), 0o755))

	err := store.Save("gw-1", det, testMetadata())
	require.Error(t, err)

	// The half-written model must have been rolled back.
	_, statErr := os.Stat(filepath.Join(dir, "gw-1", "model.gob"))
	assert.True(t, os.IsNotExist(statErr))
	assert.False(t, store.Exists("gw-1"))
}

func TestSaveReplacesAtomically(t *testing.T) {
	store := New(t.TempDir(), nil)
	det, frame := trainedDetector(t)
	require.NoError(t, store.Save("gw-1", det, testMetadata()))

	// Retrain on different data and save again under the same key.
	other := dataset.New([]string{"1_F", "1_H"})
	rng := rand.New(rand.NewSource(9))
	for i := 0; i < 60; i++ {
		other.AppendRow([]float64{rng.Float64() * 100, rng.Float64() * 100}, int64(i)*60)
	}
	det2 := iforest.New(iforest.WithTrees(20), iforest.WithSeed(7))
	require.NoError(t, det2.Train(other))
	meta2 := testMetadata()
	meta2.AUC = 0.75
	require.NoError(t, store.Save("gw-1", det2, meta2))

	loaded, meta, err := store.Load("gw-1")
	require.NoError(t, err)
	assert.Equal(t, 0.75, meta.AUC)

	wantProbs, err := det2.Predict(frame)
	require.NoError(t, err)
	gotProbs, err := loaded.Predict(frame)
	require.NoError(t, err)
	assert.Equal(t, wantProbs, gotProbs)
}
