package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// File names used by the JSON detection log.
const (
	SessionFile   = "current_session.json"
	backupPrefix  = "detections_"
	backupSuffix  = ".json"
	archivePrefix = "detections_archive_"
)

// DatetimeLayout formats the datetime field of logged records.
const DatetimeLayout = "2006-01-02 15:04:05"

// Record is one entry of the JSON detection log.
type Record struct {
	Timestamp  float64   `json:"timestamp"`
	Datetime   string    `json:"datetime"`
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	Location   *Location `json:"location"`
}

// NewRecord builds the JSON log entry for d.
func NewRecord(d *Detection) Record {
	t := d.DetectedAt
	return Record{
		Timestamp:  float64(t.UnixNano()) / float64(time.Second),
		Datetime:   t.Format(DatetimeLayout),
		Class:      d.Class,
		Confidence: d.Confidence,
		Location:   d.Location,
	}
}

// Journal keeps the JSON detection log of the running session. Every append
// rewrites current_session.json; Export writes a timestamped backup.
type Journal struct {
	mu      sync.Mutex
	dir     string
	records []Record
}

// NewJournal starts an empty log in dir, removing any stale session file.
func NewJournal(dir string) (*Journal, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := os.Remove(filepath.Join(dir, SessionFile)); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to clear session file: %w", err)
	}
	return &Journal{dir: dir, records: []Record{}}, nil
}

// Append adds detections and rewrites the session file.
func (j *Journal) Append(dets ...*Detection) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, d := range dets {
		j.records = append(j.records, NewRecord(d))
	}
	return writeJSON(filepath.Join(j.dir, SessionFile), j.records)
}

// Records returns a copy of the logged records.
func (j *Journal) Records() []Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Record(nil), j.records...)
}

// Len returns the number of logged records.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

// Export writes the session file and a detections_<unix>.json backup. It
// returns the backup path, or "" when nothing was logged.
func (j *Journal) Export(now time.Time) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.records) == 0 {
		return "", nil
	}
	if err := writeJSON(filepath.Join(j.dir, SessionFile), j.records); err != nil {
		return "", err
	}
	return WriteBackup(j.dir, j.records, now)
}

// WriteBackup writes records to dir/detections_<unix>.json and returns the path.
func WriteBackup(dir string, records []Record, now time.Time) (string, error) {
	if records == nil {
		records = []Record{}
	}
	path := filepath.Join(dir, backupName(now))
	if err := writeJSON(path, records); err != nil {
		return "", err
	}
	return path, nil
}

func backupName(t time.Time) string {
	return backupPrefix + strconv.FormatInt(t.Unix(), 10) + backupSuffix
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadRecords loads a JSON detection log file.
func ReadRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return records, nil
}

// DetectionFile describes one detections_<unix>.json backup.
type DetectionFile struct {
	Filename string `json:"filename"`
	Path     string `json:"filepath"`
	Date     string `json:"date"`
	Size     int64  `json:"size"`
}

// ListDetectionFiles returns the backups in dir, newest first.
func ListDetectionFiles(dir string) ([]DetectionFile, error) {
	paths, err := filepath.Glob(filepath.Join(dir, backupPrefix+"*"+backupSuffix))
	if err != nil {
		return nil, err
	}

	files := make([]DetectionFile, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		name := filepath.Base(p)
		date := "Unknown"
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix)
		if sec, err := strconv.ParseInt(stamp, 10, 64); err == nil {
			date = time.Unix(sec, 0).Format(DatetimeLayout)
		}
		files = append(files, DetectionFile{Filename: name, Path: p, Date: date, Size: info.Size()})
	}

	sort.Slice(files, func(a, b int) bool { return files[a].Filename > files[b].Filename })
	return files, nil
}

// ArchiveResult reports what Archive did.
type ArchiveResult struct {
	Count int    `json:"archived_count"`
	Dir   string `json:"archive_dir,omitempty"`
}

// Archive moves every backup in dir into detections_archive_<YYYYMMDD_HHMMSS>/,
// or deletes them when remove is set.
func Archive(dir string, now time.Time, remove bool) (ArchiveResult, error) {
	files, err := ListDetectionFiles(dir)
	if err != nil {
		return ArchiveResult{}, err
	}
	if len(files) == 0 {
		return ArchiveResult{}, nil
	}

	if remove {
		var res ArchiveResult
		for _, f := range files {
			if err := os.Remove(f.Path); err != nil {
				return res, err
			}
			res.Count++
		}
		return res, nil
	}

	res := ArchiveResult{Dir: archivePrefix + now.Format("20060102_150405")}
	dest := filepath.Join(dir, res.Dir)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return ArchiveResult{}, err
	}
	for _, f := range files {
		if err := os.Rename(f.Path, filepath.Join(dest, f.Filename)); err != nil {
			return res, err
		}
		res.Count++
	}
	return res, nil
}
