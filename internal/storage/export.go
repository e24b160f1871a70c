package storage

import (
	"encoding/json"
	"io"
	"os"
)

type ExportData struct {
	Meta      RunMetadata `json:"meta"`
	Steps     int         `json:"steps"`
	Trace     []float64   `json:"trace"`
	Converged bool        `json:"converged"`
	Shape     []int       `json:"shape"`
	States    [][]float64 `json:"states"`
}

// Collect gathers the live snapshots of a run for export.
func Collect(run Run) (*ExportData, error) {
	meta, err := run.Meta()
	if err != nil {
		return nil, err
	}
	snaps, err := run.Snapshots()
	if err != nil {
		return nil, err
	}

	data := &ExportData{
		Meta:   meta,
		Steps:  len(snaps),
		Trace:  trace(snaps),
		States: make([][]float64, len(snaps)),
	}
	for i, s := range snaps {
		data.States[i] = s.Data
	}
	if n := len(snaps); n > 0 {
		data.Shape = snaps[n-1].Shape
		data.Converged = snaps[n-1].Converged
	}
	return data, nil
}

func WriteJSON(w io.Writer, data *ExportData) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// ExportJSON writes the run to path, or to stdout when path is empty or "-".
func ExportJSON(path string, run Run) error {
	data, err := Collect(run)
	if err != nil {
		return err
	}
	if path == "" || path == "-" {
		return WriteJSON(os.Stdout, data)
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteJSON(file, data)
}
