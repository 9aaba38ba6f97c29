package checkpointer

import (
	"bytes"
	"encoding/gob"
	"path/filepath"
	"testing"
)

// payload is a minimal serializable object for checkpoint tests
type payload struct {
	Weights []float64
	Steps   int
}

func (p *payload) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(p.Weights); err != nil {
		return nil, err
	}
	if err := enc.Encode(p.Steps); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *payload) GobDecode(in []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(in))
	if err := dec.Decode(&p.Weights); err != nil {
		return err
	}
	return dec.Decode(&p.Steps)
}

// TestFilename checks the step-tagged checkpoint naming scheme
func TestFilename(t *testing.T) {
	got := Filename("models", "actor", 1000000)
	want := filepath.Join("models", "actor_s1000000.bin")
	if got != want {
		t.Errorf("filename is %v, expected %v", got, want)
	}
}

// TestSaveLoadRoundTrip saves an object into a nested directory and
// restores it.
func TestSaveLoadRoundTrip(t *testing.T) {
	path := Filename(filepath.Join(t.TempDir(), "models"), "critic", 42)

	saved := &payload{Weights: []float64{1, -2, 0.5}, Steps: 42}
	if err := Save(path, saved); err != nil {
		t.Fatalf("could not save object: %v", err)
	}

	restored := &payload{}
	if err := Load(path, restored); err != nil {
		t.Fatalf("could not load object: %v", err)
	}

	if restored.Steps != saved.Steps {
		t.Errorf("restored %v steps, expected %v", restored.Steps,
			saved.Steps)
	}
	if len(restored.Weights) != len(saved.Weights) {
		t.Fatalf("restored %v weights, expected %v", len(restored.Weights),
			len(saved.Weights))
	}
	for i := range saved.Weights {
		if restored.Weights[i] != saved.Weights[i] {
			t.Errorf("restored weight %v is %v, expected %v", i,
				restored.Weights[i], saved.Weights[i])
		}
	}
}

// TestLoadMissingFile ensures loading a nonexistent checkpoint fails
func TestLoadMissingFile(t *testing.T) {
	if err := Load(Filename(t.TempDir(), "actor", 1),
		&payload{}); err == nil {
		t.Error("loading a missing checkpoint succeeded")
	}
}
