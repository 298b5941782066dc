package iforest

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyvanazami/sensoriot-anomaly/pkg/dataset"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/detectors"
)

// trainingFrame builds n rows of two correlated sensor-like columns.
func trainingFrame(n int, seed int64) *dataset.Frame {
	rng := rand.New(rand.NewSource(seed))
	f := dataset.New([]string{"1_F", "1_H"})
	for i := 0; i < n; i++ {
		temp := 21 + 2*rng.Float64()
		f.AppendRow([]float64{temp, 50 + temp + rng.Float64()}, int64(i)*60)
	}
	return f
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		wantNTrees int
	}{
		{
			name:       "default configuration",
			opts:       nil,
			wantNTrees: 100,
		},
		{
			name:       "custom trees",
			opts:       []Option{WithTrees(50)},
			wantNTrees: 50,
		},
		{
			name:       "multiple options",
			opts:       []Option{WithTrees(200), WithContamination(0.1), WithSeed(123)},
			wantNTrees: 200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.opts...)
			assert.Equal(t, tt.wantNTrees, f.nTrees)
		})
	}
}

func TestTrain(t *testing.T) {
	t.Run("empty frame", func(t *testing.T) {
		f := New()
		assert.ErrorIs(t, f.Train(dataset.New([]string{"a"})), detectors.ErrEmptyDataset)
	})

	t.Run("freezes columns and normalization", func(t *testing.T) {
		f := New(WithTrees(10))
		require.NoError(t, f.Train(trainingFrame(100, 1)))
		assert.True(t, f.trained)
		assert.Equal(t, []string{"1_F", "1_H"}, f.columns)
		assert.NotNil(t, f.stats)
		assert.Len(t, f.trees, 10)
	})

	t.Run("retrain discards prior state", func(t *testing.T) {
		f := New(WithTrees(10))
		require.NoError(t, f.Train(trainingFrame(100, 1)))

		other := dataset.New([]string{"2_F", "2_H", "2_P"})
		rng := rand.New(rand.NewSource(2))
		for i := 0; i < 50; i++ {
			other.AppendRow([]float64{rng.Float64(), rng.Float64(), rng.Float64()}, int64(i))
		}
		require.NoError(t, f.Train(other))
		assert.Equal(t, []string{"2_F", "2_H", "2_P"}, f.columns)
	})
}

func TestPredict(t *testing.T) {
	train := trainingFrame(200, 1)
	f := New(WithSeed(42))
	require.NoError(t, f.Train(train))

	t.Run("training rows score as normal", func(t *testing.T) {
		probs, err := f.Predict(train)
		require.NoError(t, err)
		require.Len(t, probs, 200)

		var sum float64
		high := 0
		for _, p := range probs {
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
			sum += p
			if p >= 0.4 {
				high++
			}
		}
		assert.Greater(t, sum/200, 0.4)
		assert.Greater(t, high, 160, "most training rows should score as normal")
	})

	t.Run("out-of-range rows score as anomalous", func(t *testing.T) {
		anomalies := dataset.New([]string{"1_F", "1_H"})
		anomalies.AppendRow([]float64{100, 100}, 0)
		anomalies.AppendRow([]float64{-50, -50}, 60)

		probs, err := f.Predict(anomalies)
		require.NoError(t, err)
		for _, p := range probs {
			assert.Less(t, p, 0.3)
		}
	})

	t.Run("extra columns ignored", func(t *testing.T) {
		wide := dataset.New([]string{"1_H", "extra", "1_F"})
		for _, row := range train.Rows[:10] {
			wide.AppendRow([]float64{row[1], 999, row[0]}, 0)
		}
		probs, err := f.Predict(wide)
		require.NoError(t, err)

		base, err := f.Predict(&dataset.Frame{Columns: train.Columns, Rows: train.Rows[:10]})
		require.NoError(t, err)
		assert.Equal(t, base, probs)
	})

	t.Run("missing column fails", func(t *testing.T) {
		narrow := dataset.New([]string{"1_F"})
		narrow.AppendRow([]float64{21}, 0)
		_, err := f.Predict(narrow)
		assert.Error(t, err)
	})

	t.Run("predict before train fails", func(t *testing.T) {
		_, err := New().Predict(train)
		assert.ErrorIs(t, err, detectors.ErrNotTrained)
	})
}

func TestTrainDeterministic(t *testing.T) {
	train := trainingFrame(150, 7)
	test := trainingFrame(30, 8)

	a := New(WithSeed(42))
	require.NoError(t, a.Train(train))
	b := New(WithSeed(42))
	require.NoError(t, b.Train(train))

	probsA, err := a.Predict(test)
	require.NoError(t, err)
	probsB, err := b.Predict(test)
	require.NoError(t, err)
	assert.Equal(t, probsA, probsB)
}

func TestSaveLoad(t *testing.T) {
	train := trainingFrame(150, 1)
	test := trainingFrame(40, 2)

	original := New(WithTrees(30), WithContamination(0.1), WithSeed(42))
	require.NoError(t, original.Train(train))
	originalProbs, err := original.Predict(test)
	require.NoError(t, err)

	data, err := original.Save()
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	loaded := New()
	require.NoError(t, loaded.Load(data))
	loadedProbs, err := loaded.Predict(test)
	require.NoError(t, err)
	assert.Equal(t, originalProbs, loadedProbs)
	assert.Equal(t, original.Threshold(), loaded.Threshold())

	t.Run("save before train fails", func(t *testing.T) {
		_, err := New().Save()
		assert.ErrorIs(t, err, detectors.ErrNotTrained)
	})
}

func TestRegistered(t *testing.T) {
	det, err := detectors.New(TypeTag)
	require.NoError(t, err)
	assert.IsType(t, &IsolationForest{}, det)
}
