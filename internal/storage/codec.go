package storage

import (
	"encoding/json"
	"errors"

	"hnse/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// NewVersionedRecord stamps a record with the current schema and codec
// versions.
func NewVersionedRecord() model.VersionedRecord {
	return model.VersionedRecord{
		SchemaVersion: CurrentSchemaVersion,
		CodecVersion:  CurrentCodecVersion,
	}
}

func EncodeState(state model.PersistedState) ([]byte, error) {
	return json.Marshal(state)
}

func DecodeState(data []byte) (model.PersistedState, error) {
	var state model.PersistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return model.PersistedState{}, err
	}
	if err := checkVersion(state.VersionedRecord); err != nil {
		return model.PersistedState{}, err
	}
	return state, nil
}

func EncodeCycleSummary(summary model.CycleSummary) ([]byte, error) {
	return json.Marshal(summary)
}

func DecodeCycleSummary(data []byte) (model.CycleSummary, error) {
	var summary model.CycleSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.CycleSummary{}, err
	}
	return summary, nil
}

func EncodeTrainingExamples(examples []model.TrainingExample) ([]byte, error) {
	return json.Marshal(examples)
}

func DecodeTrainingExamples(data []byte) ([]model.TrainingExample, error) {
	var examples []model.TrainingExample
	if err := json.Unmarshal(data, &examples); err != nil {
		return nil, err
	}
	return examples, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
