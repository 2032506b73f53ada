package storage

import (
	"encoding/json"
	"errors"
	"sort"

	"antennaforge/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion is stamped on every record the store writes.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeCandidates(records []model.CandidateRecord) ([]byte, error) {
	return json.Marshal(records)
}

func DecodeCandidates(data []byte) ([]model.CandidateRecord, error) {
	var records []model.CandidateRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	for _, record := range records {
		if err := checkVersion(record.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func EncodeHistory(history []model.GenerationRecord) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeHistory(data []byte) ([]model.GenerationRecord, error) {
	var history []model.GenerationRecord
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

// sortRuns orders runs newest first, breaking ties by id.
func sortRuns(runs []model.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}

func cloneRun(r model.RunRecord) model.RunRecord {
	if r.Constraints != nil {
		constraints := make(map[string]any, len(r.Constraints))
		for k, v := range r.Constraints {
			constraints[k] = v
		}
		r.Constraints = constraints
	}
	return r
}

func cloneCandidates(records []model.CandidateRecord) []model.CandidateRecord {
	copied := make([]model.CandidateRecord, len(records))
	for i, record := range records {
		record.Params = record.Params.Clone()
		copied[i] = record
	}
	return copied
}
