package ocsvm

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyvanazami/sensoriot-anomaly/pkg/dataset"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/detectors"
)

func trainingFrame(n int, seed int64) *dataset.Frame {
	rng := rand.New(rand.NewSource(seed))
	f := dataset.New([]string{"1_F", "1_H"})
	for i := 0; i < n; i++ {
		temp := 21 + 2*rng.Float64()
		f.AppendRow([]float64{temp, 50 + temp + rng.Float64()}, int64(i)*60)
	}
	return f
}

func TestTrain(t *testing.T) {
	t.Run("empty frame", func(t *testing.T) {
		assert.ErrorIs(t, New().Train(dataset.New([]string{"a"})), detectors.ErrEmptyDataset)
	})

	t.Run("fit freezes boundary", func(t *testing.T) {
		d := New(WithNu(0.1))
		require.NoError(t, d.Train(trainingFrame(100, 1)))
		assert.True(t, d.trained)
		assert.Greater(t, d.rho, 0.0)
		assert.Greater(t, d.fittedGamma, 0.0)
	})

	t.Run("configured gamma is used as-is", func(t *testing.T) {
		d := New(WithGamma(2.5))
		require.NoError(t, d.Train(trainingFrame(50, 1)))
		assert.Equal(t, 2.5, d.fittedGamma)
	})
}

func TestRetrainDiscardsPriorFit(t *testing.T) {
	first := trainingFrame(100, 1)
	second := dataset.New([]string{"1_F", "1_H"})
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 100; i++ {
		second.AppendRow([]float64{10 + 30*rng.Float64(), 100 * rng.Float64()}, int64(i)*60)
	}

	reused := New(WithNu(0.1))
	require.NoError(t, reused.Train(first))
	require.NoError(t, reused.Train(second))

	fresh := New(WithNu(0.1))
	require.NoError(t, fresh.Train(second))

	// A retrained instance must be indistinguishable from a fresh fit: the
	// derived kernel width and offset come from the new data only.
	assert.Equal(t, fresh.fittedGamma, reused.fittedGamma)
	assert.Equal(t, fresh.rho, reused.rho)

	wantProbs, err := fresh.Predict(second)
	require.NoError(t, err)
	gotProbs, err := reused.Predict(second)
	require.NoError(t, err)
	assert.Equal(t, wantProbs, gotProbs)
}

func TestPredictBinary(t *testing.T) {
	train := trainingFrame(100, 1)
	d := New(WithNu(0.1))
	require.NoError(t, d.Train(train))

	probs, err := d.Predict(train)
	require.NoError(t, err)

	inside := 0
	for _, p := range probs {
		// The boundary variant only ever emits 0 or 1.
		assert.Contains(t, []float64{0.0, 1.0}, p)
		if p == 1.0 {
			inside++
		}
	}
	// Roughly a nu fraction of the training rows falls outside.
	assert.GreaterOrEqual(t, inside, 85)
}

func TestPredictAnomalies(t *testing.T) {
	d := New(WithNu(0.1))
	require.NoError(t, d.Train(trainingFrame(100, 1)))

	anomalies := dataset.New([]string{"1_F", "1_H"})
	anomalies.AppendRow([]float64{500, -100}, 0)
	anomalies.AppendRow([]float64{-500, 500}, 60)

	probs, err := d.Predict(anomalies)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.0, 0.0}, probs)
}

func TestPredictColumnContract(t *testing.T) {
	train := trainingFrame(50, 1)
	d := New()
	require.NoError(t, d.Train(train))

	t.Run("missing column fails", func(t *testing.T) {
		narrow := dataset.New([]string{"1_F"})
		narrow.AppendRow([]float64{21}, 0)
		_, err := d.Predict(narrow)
		assert.Error(t, err)
	})

	t.Run("predict before train fails", func(t *testing.T) {
		_, err := New().Predict(train)
		assert.ErrorIs(t, err, detectors.ErrNotTrained)
	})
}

func TestSaveLoad(t *testing.T) {
	train := trainingFrame(80, 1)
	test := trainingFrame(20, 2)

	original := New(WithNu(0.15))
	require.NoError(t, original.Train(train))
	originalProbs, err := original.Predict(test)
	require.NoError(t, err)

	data, err := original.Save()
	require.NoError(t, err)

	loaded := New()
	require.NoError(t, loaded.Load(data))
	loadedProbs, err := loaded.Predict(test)
	require.NoError(t, err)
	assert.Equal(t, originalProbs, loadedProbs)
}

func TestRegistered(t *testing.T) {
	det, err := detectors.New(TypeTag)
	require.NoError(t, err)
	assert.IsType(t, &OneClassSVM{}, det)
}
