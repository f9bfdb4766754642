package imports

import (
	"encoding/json"
	"fmt"
)

// EncodeRecords serializes a validated record set for storage as a job
// payload.
func EncodeRecords(records []Record) ([]byte, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encoding import records: %w", err)
	}
	return data, nil
}

// DecodeRecords deserializes a job payload back into the record set.
func DecodeRecords(data []byte) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decoding import records: %w", err)
	}
	return records, nil
}
