// Package detectors provides the anomaly detection algorithms trained by
// the gateway pipeline.
package detectors

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/keyvanazami/sensoriot-anomaly/pkg/dataset"
)

// Errors shared by all detector implementations.
var (
	ErrNotTrained   = errors.New("model not trained")
	ErrEmptyDataset = errors.New("empty training data")
)

// Detector is the common interface for all anomaly detection algorithms.
//
// Train fits on positive-only (normal) data and freezes the frame's column
// order plus per-column normalization statistics; calling it again fully
// discards prior fit state. Predict accepts frames containing at least the
// frozen columns (extras are ignored) and returns one probability per row
// in [0,1], 1.0 = normal and 0.0 = anomalous, applying the frozen
// normalization. Both fail if a frozen column is absent.
type Detector interface {
	Train(frame *dataset.Frame) error
	Predict(frame *dataset.Frame) ([]float64, error)

	// Save serializes the trained model to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained model from bytes.
	Load(data []byte) error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func() Detector)
)

// Register makes a detector constructor available under a type tag so a
// persisted model can be reconstructed from its metadata.
func Register(tag string, factory func() Detector) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[tag] = factory
}

// New constructs an untrained detector for the given type tag.
func New(tag string) (Detector, error) {
	registryMu.RLock()
	factory, ok := registry[tag]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown detector type %q", tag)
	}
	return factory(), nil
}

// Types returns the registered type tags, sorted.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	tags := make([]string, 0, len(registry))
	for t := range registry {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
