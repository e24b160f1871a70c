package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/san-kum/flowode/internal/dynamo"
)

const (
	metadataFile  = "metadata.json"
	snapshotsFile = "snapshots.csv"
)

// FileStore keeps one directory per run holding metadata.json and an
// append-only snapshots.csv.
type FileStore struct {
	baseDir string
}

func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

func (s *FileStore) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) Create(meta RunMetadata) (Run, error) {
	if meta.ID == "" {
		meta.ID = newRunID(meta.Problem)
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}

	dir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	run := &fileRun{id: meta.ID, dir: dir}
	if err := run.UpdateMeta(meta); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *FileStore) Open(id string) (Run, error) {
	dir := filepath.Join(s.baseDir, id)
	if _, err := os.Stat(filepath.Join(dir, metadataFile)); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, err
	}
	return &fileRun{id: id, dir: dir}, nil
}

func (s *FileStore) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		run := &fileRun{id: entry.Name(), dir: filepath.Join(s.baseDir, entry.Name())}
		meta, err := run.Meta()
		if err != nil {
			continue
		}
		runs = append(runs, meta)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

type fileRun struct {
	id  string
	dir string
}

func (r *fileRun) ID() string { return r.id }

func (r *fileRun) Close() error { return nil }

func (r *fileRun) Meta() (RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, metadataFile))
	if err != nil {
		return RunMetadata{}, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return RunMetadata{}, err
	}
	return meta, nil
}

func (r *fileRun) UpdateMeta(meta RunMetadata) error {
	meta.ID = r.id
	f, err := os.Create(filepath.Join(r.dir, metadataFile))
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

// Append writes one row:
// iteration, lambda, converged, next_step, prev_step, hit_checkpoint, shape, values...
func (r *fileRun) Append(s dynamo.Snapshot) error {
	f, err := os.OpenFile(filepath.Join(r.dir, snapshotsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(encodeRow(s)); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (r *fileRun) Snapshots() ([]dynamo.Snapshot, error) {
	f, err := os.Open(filepath.Join(r.dir, snapshotsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []dynamo.Snapshot{}, nil
		}
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1

	var log []dynamo.Snapshot
	for line := 1; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		s, err := decodeRow(record)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", snapshotsFile, line, err)
		}
		log = append(log, s)
	}
	return replay(log), nil
}

func (r *fileRun) Latest() (dynamo.Snapshot, error) {
	snaps, err := r.Snapshots()
	if err != nil {
		return dynamo.Snapshot{}, err
	}
	return latest(snaps)
}

func (r *fileRun) Snapshot(iteration int) (dynamo.Snapshot, error) {
	snaps, err := r.Snapshots()
	if err != nil {
		return dynamo.Snapshot{}, err
	}
	return find(snaps, iteration)
}

func (r *fileRun) Trace() ([]float64, error) {
	snaps, err := r.Snapshots()
	if err != nil {
		return nil, err
	}
	return trace(snaps), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func encodeRow(s dynamo.Snapshot) []string {
	shape := make([]string, len(s.Shape))
	for i, d := range s.Shape {
		shape[i] = strconv.Itoa(d)
	}

	row := []string{
		strconv.Itoa(s.Iteration),
		formatFloat(s.Lambda),
		strconv.FormatBool(s.Converged),
		formatFloat(s.Cursor.NextStep),
		formatFloat(s.Cursor.PrevStep),
		strconv.FormatBool(s.Cursor.HitCheckpoint),
		strings.Join(shape, "x"),
	}
	for _, v := range s.Data {
		row = append(row, formatFloat(v))
	}
	return row
}

func decodeRow(record []string) (dynamo.Snapshot, error) {
	var s dynamo.Snapshot
	if len(record) < 7 {
		return s, fmt.Errorf("short record with %d fields", len(record))
	}

	var err error
	if s.Iteration, err = strconv.Atoi(record[0]); err != nil {
		return s, err
	}
	if s.Lambda, err = strconv.ParseFloat(record[1], 64); err != nil {
		return s, err
	}
	if s.Cursor.NextStep, err = strconv.ParseFloat(record[3], 64); err != nil {
		return s, err
	}
	if s.Cursor.PrevStep, err = strconv.ParseFloat(record[4], 64); err != nil {
		return s, err
	}
	if s.Converged, err = strconv.ParseBool(record[2]); err != nil {
		return s, err
	}
	if s.Cursor.HitCheckpoint, err = strconv.ParseBool(record[5]); err != nil {
		return s, err
	}

	for _, d := range strings.Split(record[6], "x") {
		n, err := strconv.Atoi(d)
		if err != nil {
			return s, fmt.Errorf("shape %q: %w", record[6], err)
		}
		s.Shape = append(s.Shape, n)
	}

	s.Data = make([]float64, 0, len(record)-7)
	for _, field := range record[7:] {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return s, err
		}
		s.Data = append(s.Data, v)
	}
	return s, nil
}
