package storage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// SaveSnapshot marshals v to JSON, compresses it with zstd, and writes it
// through the adapter.
func SaveSnapshot(a Adapter, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	compressed := encoder.EncodeAll(data, nil)
	if err := a.Write(path, compressed); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads and decodes a snapshot written by SaveSnapshot.
// Returns (false, nil) when no snapshot exists at path.
func LoadSnapshot(a Adapter, path string, v any) (bool, error) {
	data, err := a.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read snapshot: %w", err)
	}
	decompressed, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return false, fmt.Errorf("decompress snapshot: %w", err)
	}
	if err := json.Unmarshal(decompressed, v); err != nil {
		return false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return true, nil
}
