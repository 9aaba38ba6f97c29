// Package checkpointer saves and restores serializable training state
package checkpointer

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// Serializable is an object that can be saved/serialized
type Serializable interface {
	gob.GobEncoder
	gob.GobDecoder
}

// Filename returns the path of the checkpoint file for a named
// component at a given training step
func Filename(dir, name string, step int) string {
	return filepath.Join(dir, fmt.Sprintf("%v_s%v.bin", name, step))
}

// Save serializes object to the file at path, creating any missing
// parent directories
func Save(path string, object gob.GobEncoder) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save: could not create checkpoint directory: %v",
			err)
	}

	data, err := object.GobEncode()
	if err != nil {
		return fmt.Errorf("save: could not encode object: %v", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save: could not write checkpoint file: %v", err)
	}

	return nil
}

// Load restores object from the file at path
func Load(path string, object gob.GobDecoder) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load: could not read checkpoint file: %v", err)
	}

	if err := object.GobDecode(data); err != nil {
		return fmt.Errorf("load: could not decode object: %v", err)
	}

	return nil
}
