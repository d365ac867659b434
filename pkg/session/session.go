// Package session persists wizard progress so an interrupted wizard can be
// resumed exactly where it stopped.
package session

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/skillsmith/skillsmith/pkg/utils"
)

// Step keys in step order. Step ordinals are 1-based indexes into StepKeys.
var StepKeys = []string{"skill_name", "description", "instructions", "resources"}

// TotalSteps is the number of input steps.
var TotalSteps = len(StepKeys)

// ReviewStep is the ordinal of the review screen that follows the input steps.
var ReviewStep = TotalSteps + 1

// KeyForStep returns the input key collected at step, or "" if step is not an input step.
func KeyForStep(step int) string {
	if step < 1 || step > TotalSteps {
		return ""
	}
	return StepKeys[step-1]
}

var (
	// ErrStateNotFound is returned when a state file does not exist.
	ErrStateNotFound = errors.New("wizard state not found")
	// ErrInvalidState is returned when a state file cannot be decoded or is incomplete.
	ErrInvalidState = errors.New("invalid wizard state")
)

// Inputs maps step keys to validated values. It encodes in step order.
type Inputs map[string]string

// MarshalJSON writes known step keys first, in step order, then any other keys sorted.
func (in Inputs) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(in))
	for _, k := range StepKeys {
		if _, ok := in[k]; ok {
			keys = append(keys, k)
		}
	}
	var extra []string
	for k := range in {
		if StepIndex(k) < 0 {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	keys = append(keys, extra...)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(in[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// StepIndex returns the zero-based position of key in StepKeys, or -1.
func StepIndex(key string) int {
	for i, k := range StepKeys {
		if k == key {
			return i
		}
	}
	return -1
}

// Session is the progress of one wizard run.
type Session struct {
	CurrentStep     int       `json:"current_step" mapstructure:"current_step"`
	CollectedInputs Inputs    `json:"collected_inputs" mapstructure:"collected_inputs"`
	VisitedSteps    []int     `json:"visited_steps" mapstructure:"visited_steps"`
	StartTime       time.Time `json:"start_timestamp" mapstructure:"start_timestamp"`
	LastSuspendTime time.Time `json:"timeout_at" mapstructure:"timeout_at"`
}

var requiredFields = []string{"current_step", "collected_inputs", "visited_steps", "start_timestamp", "timeout_at"}

// New starts a session at step 1.
func New(now time.Time) *Session {
	return &Session{
		CurrentStep:     1,
		CollectedInputs: Inputs{},
		VisitedSteps:    []int{},
		StartTime:       now,
	}
}

// Complete records value for the current step, pushes it onto the visited
// stack and advances.
func (s *Session) Complete(value string) {
	if key := KeyForStep(s.CurrentStep); key != "" {
		s.CollectedInputs[key] = value
	}
	s.VisitedSteps = append(s.VisitedSteps, s.CurrentStep)
	s.CurrentStep++
}

// Back pops the most recently visited step and makes it current. It returns
// false when there is nothing to go back to.
func (s *Session) Back() bool {
	if len(s.VisitedSteps) == 0 {
		return false
	}
	last := len(s.VisitedSteps) - 1
	s.CurrentStep = s.VisitedSteps[last]
	s.VisitedSteps = s.VisitedSteps[:last]
	return true
}

// CanGoBack reports whether Back would succeed.
func (s *Session) CanGoBack() bool {
	return len(s.VisitedSteps) > 0
}

// Value returns the stored input for step.
func (s *Session) Value(step int) string {
	return s.CollectedInputs[KeyForStep(step)]
}

// Validate checks the invariants a resumable session must satisfy.
func (s *Session) Validate() error {
	if s.CurrentStep < 1 || s.CurrentStep > ReviewStep {
		return errors.Wrapf(ErrInvalidState, "current_step %d out of range 1..%d", s.CurrentStep, ReviewStep)
	}
	for _, step := range s.VisitedSteps {
		if step < 1 || step > TotalSteps {
			return errors.Wrapf(ErrInvalidState, "visited step %d out of range 1..%d", step, TotalSteps)
		}
	}
	for key := range s.CollectedInputs {
		if StepIndex(key) < 0 {
			return errors.Wrapf(ErrInvalidState, "unknown input %q", key)
		}
	}
	if s.StartTime.IsZero() {
		return errors.Wrap(ErrInvalidState, "start_timestamp is empty")
	}
	return nil
}

// Store saves sessions as JSON files in a directory.
type Store struct {
	dir string
	now func() time.Time
}

const (
	filePrefix = "wizard-state-"
	fileSuffix = ".json"
	// millisecond precision keeps successive saves within one second distinct
	fileTimeFormat = "20060102T150405.000"
)

// NewStore returns a store writing into dir. The directory is created on first save.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Dir returns the store directory.
func (st *Store) Dir() string {
	return st.dir
}

// Save stamps the suspend time and writes s to a new timestamped file,
// returning its path.
func (st *Store) Save(s *Session) (string, error) {
	now := st.now()
	s.LastSuspendTime = now

	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create state directory")
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal wizard state")
	}

	path := filepath.Join(st.dir, filePrefix+now.Format(fileTimeFormat)+fileSuffix)
	if err := utils.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "failed to write state file")
	}

	return path, nil
}

// Load reads a session. Missing files yield ErrStateNotFound; undecodable
// files, files missing a required field and out-of-range values yield
// ErrInvalidState.
func (st *Store) Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrStateNotFound, "%s", path)
		}
		return nil, errors.Wrap(err, "failed to read state file")
	}

	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrapf(ErrInvalidState, "malformed JSON: %v", err)
	}

	for _, field := range requiredFields {
		if _, ok := raw[field]; !ok {
			return nil, errors.Wrapf(ErrInvalidState, "missing required field %q", field)
		}
	}

	s := &Session{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     s,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(jsonNumberToIntHook, mapstructure.StringToTimeHookFunc(time.RFC3339)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create state decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, errors.Wrapf(ErrInvalidState, "%v", err)
	}
	if s.CollectedInputs == nil {
		s.CollectedInputs = Inputs{}
	}
	if s.VisitedSteps == nil {
		s.VisitedSteps = []int{}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func jsonNumberToIntHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	n, ok := data.(json.Number)
	if !ok || to.Kind() != reflect.Int {
		return data, nil
	}
	v, err := n.Int64()
	if err != nil {
		return nil, errors.Errorf("%s is not an integer", n)
	}
	return int(v), nil
}

// Delete removes a state file. A missing file is not an error.
func (st *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete state file")
	}
	return nil
}

// Entry describes a saved state file.
type Entry struct {
	Path    string
	SavedAt time.Time
}

// List returns saved state files, newest first.
func (st *Store) List() ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(st.dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list state files")
	}

	entries := make([]Entry, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		saved := info.ModTime()
		stamp := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), filePrefix), fileSuffix)
		if t, err := time.ParseInLocation(fileTimeFormat, stamp, time.Local); err == nil {
			saved = t
		}
		entries = append(entries, Entry{Path: path, SavedAt: saved})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SavedAt.After(entries[j].SavedAt)
	})
	return entries, nil
}
