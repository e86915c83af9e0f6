// Package session manages the on-disk and in-memory grouping of recordings
// from a single engine run: the temp directory layout, session.json
// metadata, permanent saves, and startup cleanup of stale sessions.
package session

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/b08x/omega-13/internal/errors"
	"github.com/b08x/omega-13/internal/logging"
)

// Recording status values persisted in session.json.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Recording holds the metadata for one finished recording.
type Recording struct {
	Ordinal      int       `json:"ordinal"`
	Filename     string    `json:"filename"`
	StartedAt    time.Time `json:"started_at"`
	Duration     float64   `json:"duration_seconds"`
	Channels     int       `json:"channels"`
	SampleRate   int       `json:"sample_rate"`
	PeakDB       float64   `json:"peak_db"`
	AverageRMSDB float64   `json:"average_rms_db"`
	Status       string    `json:"status"`
	Transcript   string    `json:"transcript_file,omitempty"`
}

// sessionFile is the JSON document written to session.json.
type sessionFile struct {
	ID           string      `json:"id"`
	Name         string      `json:"name,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	Recordings   []Recording `json:"recordings"`
	Saved        bool        `json:"saved"`
	SaveLocation string      `json:"save_location,omitempty"`
}

// Session groups the recordings of one engine run. All mutation goes
// through the controller or the file writer; methods serialize internally
// so the transcription dispatcher can annotate concurrently.
type Session struct {
	mu sync.Mutex

	id           string
	name         string
	createdAt    time.Time
	dir          string
	recordings   []Recording
	saved        bool
	saveLocation string
	nextOrdinal  int

	logger *slog.Logger
}

// New creates a session with a fresh id and temp directory layout under
// tempRoot, and persists the initial session.json.
func New(tempRoot, name string) (*Session, error) {
	id := uuid.New().String()
	dir := filepath.Join(tempRoot, id)

	for _, sub := range []string{"recordings", "transcriptions"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, errors.New(err).
				Component("session").
				Category(errors.CategoryFileIO).
				Context("operation", "create_session_dir").
				Context("path", dir).
				Build()
		}
	}

	s := &Session{
		id:          id,
		name:        name,
		createdAt:   time.Now(),
		dir:         dir,
		nextOrdinal: 1,
		logger:      logging.ForService("session"),
	}
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	s.logger.Info("session created", "session_id", id, "dir", dir)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Dir returns the temp directory of the session.
func (s *Session) Dir() string { return s.dir }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// NextOrdinal reserves and returns the next recording ordinal. Ordinals are
// monotonically increasing and never reused, including for recordings that
// are later discarded.
func (s *Session) NextOrdinal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ordinal := s.nextOrdinal
	s.nextOrdinal++
	return ordinal
}

// RecordingPath returns the audio path for an ordinal.
func (s *Session) RecordingPath(ordinal int) string {
	return filepath.Join(s.dir, "recordings", fmt.Sprintf("%03d.wav", ordinal))
}

// TranscriptPath returns the transcript path for an ordinal.
func (s *Session) TranscriptPath(ordinal int) string {
	return filepath.Join(s.dir, "transcriptions", fmt.Sprintf("%03d.md", ordinal))
}

// Append records a finished recording and persists the session.
func (s *Session) Append(rec Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordings = append(s.recordings, rec)
	return s.persistLocked()
}

// Recordings returns a copy of the recorded list.
func (s *Session) Recordings() []Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Recording, len(s.recordings))
	copy(out, s.recordings)
	return out
}

// SetTranscript annotates a recording with its transcript file and persists.
func (s *Session) SetTranscript(ordinal int, transcriptFile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.recordings {
		if s.recordings[i].Ordinal == ordinal {
			s.recordings[i].Transcript = transcriptFile
			return s.persistLocked()
		}
	}
	return errors.Newf("recording ordinal %d not in session", ordinal).
		Component("session").
		Category(errors.CategoryNotFound).
		Build()
}

// DiscardRecording deletes a recording's file and removes it from the
// session list. The ordinal remains consumed.
func (s *Session) DiscardRecording(ordinal int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.RecordingPath(ordinal)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New(err).
			Component("session").
			Category(errors.CategoryFileIO).
			Context("operation", "discard_recording").
			Context("path", path).
			Build()
	}
	for i := range s.recordings {
		if s.recordings[i].Ordinal == ordinal {
			s.recordings = append(s.recordings[:i], s.recordings[i+1:]...)
			break
		}
	}
	s.logger.Info("recording discarded", "session_id", s.id, "ordinal", ordinal)
	return s.persistLocked()
}

// Persist writes session.json with the current state.
func (s *Session) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

// persistLocked writes session.json atomically. Caller holds s.mu.
func (s *Session) persistLocked() error {
	doc := sessionFile{
		ID:           s.id,
		Name:         s.name,
		CreatedAt:    s.createdAt,
		Recordings:   s.recordings,
		Saved:        s.saved,
		SaveLocation: s.saveLocation,
	}
	return writeSessionFile(filepath.Join(s.dir, "session.json"), &doc)
}

// Save copies the session directory to dest. When dest already holds a
// session with the same id, new recordings are merged by ordinal and the
// metadata unioned. The temp copy stays on disk; only the saved flag and
// location change.
func (s *Session) Save(dest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dest == "" {
		return errors.Newf("save destination must not be empty").
			Component("session").
			Category(errors.CategoryValidation).
			Build()
	}

	existing, err := readSessionFile(filepath.Join(dest, "session.json"))
	switch {
	case err == nil && existing.ID != s.id:
		return errors.Newf("destination holds a different session %s", existing.ID).
			Component("session").
			Category(errors.CategoryValidation).
			Context("dest", dest).
			Build()
	case err != nil && !os.IsNotExist(err):
		return errors.New(err).
			Component("session").
			Category(errors.CategoryFileIO).
			Context("operation", "read_existing_save").
			Context("dest", dest).
			Build()
	}

	for _, sub := range []string{"recordings", "transcriptions"} {
		if err := os.MkdirAll(filepath.Join(dest, sub), 0o755); err != nil {
			return errors.New(err).
				Component("session").
				Category(errors.CategoryFileIO).
				Context("operation", "create_save_dir").
				Context("dest", dest).
				Build()
		}
	}

	merged := s.recordings
	if existing != nil {
		merged = mergeRecordings(existing.Recordings, s.recordings)
	}

	// Copy audio and transcript files that the destination is missing.
	for i := range merged {
		rec := &merged[i]
		if err := copyIfMissing(s.RecordingPath(rec.Ordinal),
			filepath.Join(dest, "recordings", rec.Filename)); err != nil {
			return err
		}
		if rec.Transcript != "" {
			if err := copyIfMissing(s.TranscriptPath(rec.Ordinal),
				filepath.Join(dest, "transcriptions", rec.Transcript)); err != nil {
				return err
			}
		}
	}

	doc := sessionFile{
		ID:           s.id,
		Name:         s.name,
		CreatedAt:    s.createdAt,
		Recordings:   merged,
		Saved:        true,
		SaveLocation: dest,
	}
	if err := writeSessionFile(filepath.Join(dest, "session.json"), &doc); err != nil {
		return err
	}

	s.saved = true
	s.saveLocation = dest
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.logger.Info("session saved", "session_id", s.id, "dest", dest, "recordings", len(merged))
	return nil
}

// Discard removes the session's temp directory entirely.
func (s *Session) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.dir); err != nil {
		return errors.New(err).
			Component("session").
			Category(errors.CategoryFileIO).
			Context("operation", "discard_session").
			Context("path", s.dir).
			Build()
	}
	s.logger.Info("session discarded", "session_id", s.id)
	return nil
}

// mergeRecordings unions two recording lists by ordinal, preferring the
// newer entry when both exist, sorted by ordinal.
func mergeRecordings(existing, current []Recording) []Recording {
	byOrdinal := make(map[int]Recording, len(existing)+len(current))
	for _, r := range existing {
		byOrdinal[r.Ordinal] = r
	}
	for _, r := range current {
		byOrdinal[r.Ordinal] = r
	}
	merged := make([]Recording, 0, len(byOrdinal))
	for _, r := range byOrdinal {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Ordinal < merged[j].Ordinal })
	return merged
}

func copyIfMissing(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			// Source pruned (e.g. discarded after an earlier save); nothing to copy.
			return nil
		}
		return errors.New(err).
			Component("session").
			Category(errors.CategoryFileIO).
			Context("operation", "open_save_source").
			Context("path", src).
			Build()
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return errors.New(err).
			Component("session").
			Category(errors.CategoryFileIO).
			Context("operation", "create_save_target").
			Context("path", dst).
			Build()
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return errors.New(err).
			Component("session").
			Category(errors.CategoryFileIO).
			Context("operation", "copy_save_file").
			Context("path", dst).
			Build()
	}
	return out.Sync()
}

func writeSessionFile(path string, doc *sessionFile) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.New(err).
			Component("session").
			Category(errors.CategorySystem).
			Context("operation", "marshal_session").
			Build()
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.New(err).
			Component("session").
			Category(errors.CategoryFileIO).
			Context("operation", "write_session_json").
			Context("path", tmp).
			Build()
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.New(err).
			Component("session").
			Category(errors.CategoryFileIO).
			Context("operation", "rename_session_json").
			Context("path", path).
			Build()
	}
	return nil
}

func readSessionFile(path string) (*sessionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc sessionFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
