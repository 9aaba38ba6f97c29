// Package tracker implements Trackers, which track and save scalar
// training data such as losses and schedule coefficients
package tracker

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// Point is a single tracked scalar value at some training step
type Point struct {
	Step  int
	Value float64
}

// Tracker keeps track of named scalar series during training and
// saves the data after training has finished
type Tracker interface {
	// Track records value under the series name at the given training
	// step
	Track(name string, step int, value float64)

	// Save persists all tracked series
	Save() error
}

// gobTracker saves each tracked series to a gob file in a directory
type gobTracker struct {
	dir  string
	data map[string][]Point
}

// NewGob returns a Tracker that saves each tracked series to the file
// dir/<name>.bin
func NewGob(dir string) (Tracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("newgob: could not create data directory: %v",
			err)
	}

	return &gobTracker{
		dir:  dir,
		data: make(map[string][]Point),
	}, nil
}

// Track records value under the series name at the given training step
func (g *gobTracker) Track(name string, step int, value float64) {
	g.data[name] = append(g.data[name], Point{Step: step, Value: value})
}

// Save saves each tracked series to its own gob file
func (g *gobTracker) Save() error {
	for name, points := range g.data {
		file, err := os.Create(filepath.Join(g.dir, name+".bin"))
		if err != nil {
			return fmt.Errorf("save: could not create data file: %v", err)
		}

		enc := gob.NewEncoder(file)
		if err := enc.Encode(points); err != nil {
			file.Close()
			return fmt.Errorf("save: could not encode series %v: %v", name,
				err)
		}

		if err := file.Close(); err != nil {
			return fmt.Errorf("save: could not close data file: %v", err)
		}
	}

	return nil
}

// LoadScalars loads and returns a series saved by a Tracker
func LoadScalars(filename string) ([]Point, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("loadscalars: could not open data file: %v",
			err)
	}
	defer file.Close()

	dec := gob.NewDecoder(file)
	var points []Point

	if err := dec.Decode(&points); err != nil {
		return nil, fmt.Errorf("loadscalars: could not decode data: %v", err)
	}

	return points, nil
}
