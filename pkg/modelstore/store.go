// Package modelstore persists one trained detector plus its metadata per
// gateway. Saves use write-to-temp plus atomic rename so a concurrent reader
// never observes a partially written artifact, and a metadata failure rolls
// back the just-written model.
package modelstore

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/keyvanazami/sensoriot-anomaly/pkg/detectors"
)

// ErrNotFound is returned when no model exists for a gateway.
var ErrNotFound = errors.New("model not found")

const (
	modelFile    = "model.gob"
	metadataFile = "metadata.json"
)

// Metadata describes a persisted model. It is stored as JSON next to the
// model blob so it can be inspected without decoding the detector.
type Metadata struct {
	ModelType      string   `json:"model_type"`
	AUC            float64  `json:"auc"`
	FeatureColumns []string `json:"feature_columns"`
	Nodes          []string `json:"nodes"`
	NumRows        int      `json:"num_rows"`
	TrainedAt      int64    `json:"trained_at"`
}

// envelope wraps a serialized detector with its type tag so Load can
// reconstruct the right variant.
type envelope struct {
	Type string
	Blob []byte
}

// Store keeps one model directory per gateway under a root directory.
type Store struct {
	dir string
	log *zap.Logger
}

// New returns a store rooted at dir. A nil logger disables logging.
func New(dir string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{dir: dir, log: log}
}

func (s *Store) gatewayDir(gatewayID string) string {
	return filepath.Join(s.dir, gatewayID)
}

// Save persists the detector and metadata for one gateway, replacing any
// prior artifact. If the metadata write fails after the model was written,
// the model file is removed so no half-saved state remains.
func (s *Store) Save(gatewayID string, det detectors.Detector, meta Metadata) error {
	dir := s.gatewayDir(gatewayID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model directory %s: %w", dir, err)
	}

	blob, err := det.Save()
	if err != nil {
		return fmt.Errorf("serialize detector: %w", err)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{Type: meta.ModelType, Blob: blob}); err != nil {
		return fmt.Errorf("encode model envelope: %w", err)
	}

	modelPath := filepath.Join(dir, modelFile)
	if err := atomicWrite(modelPath, buf.Bytes()); err != nil {
		return fmt.Errorf("write model %s: %w", modelPath, err)
	}

	metaBytes, err := json.Marshal(meta)
	if err == nil {
		err = atomicWrite(filepath.Join(dir, metadataFile), metaBytes)
	}
	if err != nil {
		// Roll back the model so the store never holds a model without
		// readable metadata.
		os.Remove(modelPath)
		return fmt.Errorf("write metadata for gateway %s: %w", gatewayID, err)
	}

	s.log.Info("saved gateway model",
		zap.String("gateway", gatewayID),
		zap.String("model_type", meta.ModelType),
		zap.Float64("auc", meta.AUC),
		zap.Strings("nodes", meta.Nodes),
		zap.Int("num_rows", meta.NumRows))
	return nil
}

// Load returns the detector and metadata for a gateway, or ErrNotFound.
func (s *Store) Load(gatewayID string) (detectors.Detector, *Metadata, error) {
	dir := s.gatewayDir(gatewayID)

	metaBytes, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: gateway %s", ErrNotFound, gatewayID)
		}
		return nil, nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, nil, fmt.Errorf("decode metadata for gateway %s: %w", gatewayID, err)
	}

	modelBytes, err := os.ReadFile(filepath.Join(dir, modelFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: gateway %s", ErrNotFound, gatewayID)
		}
		return nil, nil, err
	}
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(modelBytes)).Decode(&env); err != nil {
		return nil, nil, fmt.Errorf("decode model envelope for gateway %s: %w", gatewayID, err)
	}

	det, err := detectors.New(env.Type)
	if err != nil {
		return nil, nil, err
	}
	if err := det.Load(env.Blob); err != nil {
		return nil, nil, fmt.Errorf("load %s detector for gateway %s: %w", env.Type, gatewayID, err)
	}
	return det, &meta, nil
}

// Metadata reads only the metadata record, without decoding the model.
func (s *Store) Metadata(gatewayID string) (*Metadata, error) {
	metaBytes, err := os.ReadFile(filepath.Join(s.gatewayDir(gatewayID), metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: gateway %s", ErrNotFound, gatewayID)
		}
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Exists reports whether a model is persisted for the gateway.
func (s *Store) Exists(gatewayID string) bool {
	_, err := os.Stat(filepath.Join(s.gatewayDir(gatewayID), modelFile))
	return err == nil
}

// atomicWrite writes data to a temp file in the target directory and
// renames it into place.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
