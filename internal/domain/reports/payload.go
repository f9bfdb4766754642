package reports

import (
	"encoding/json"
	"fmt"
)

// EncodeConfig serializes a report configuration for storage as a job
// payload.
func EncodeConfig(cfg Config) ([]byte, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding report config: %w", err)
	}
	return data, nil
}

// DecodeConfig deserializes a job payload back into the report
// configuration.
func DecodeConfig(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding report config: %w", err)
	}
	return cfg, nil
}
