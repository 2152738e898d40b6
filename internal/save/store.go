// Package save implements opaque save codes: 9-character [A-Z0-9] identifiers
// mapping to a record of named preset slots, each holding one session
// snapshot. Records live in the document store under the code.
package save

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"sort"
	"sync"
	"time"

	"marketsim/internal/storage"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// CodeLength is the fixed save-code length.
	CodeLength = 9

	// maxCollisionRetries bounds code generation before giving up.
	maxCollisionRetries = 100

	maxPresetNameLen = 64
)

var (
	ErrCodeNotFound       = errors.New("save code not found")
	ErrPresetNotFound     = errors.New("preset not found")
	ErrCollisionExhausted = errors.New("save code space exhausted")
	ErrBadCode            = errors.New("malformed save code")
	ErrBadPresetName      = errors.New("invalid preset name")
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{9}$`)

// PresetSlot is one named snapshot within a record.
type PresetSlot struct {
	Snapshot  json.RawMessage `json:"snapshot"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Record is the full stored document for one save code.
type Record struct {
	Code         string                `json:"code"`
	CreatedAt    time.Time             `json:"createdAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
	ActivePreset string                `json:"activePreset,omitempty"`
	Presets      map[string]PresetSlot `json:"presets"`
}

// PresetMeta is preset metadata without the snapshot body.
type PresetMeta struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecordInfo is the listing view of a record: preset names and timestamps,
// never snapshot bodies.
type RecordInfo struct {
	Code         string       `json:"code"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	ActivePreset string       `json:"activePreset,omitempty"`
	Presets      []PresetMeta `json:"presets"`
}

// Store manages save records over a document store. A single mutex
// serializes mutations, which matches the in-process reference topology;
// remote backends additionally provide per-key linearizability.
type Store struct {
	docs storage.DocStore
	mu   sync.Mutex

	// newCode generates a candidate code. Overridden in collision tests.
	newCode func() string

	now func() time.Time
}

// NewStore creates a save store over docs.
func NewStore(docs storage.DocStore) *Store {
	return &Store{
		docs:    docs,
		newCode: randomCode,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func randomCode() string {
	buf := make([]byte, CodeLength)
	for i := range buf {
		buf[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(buf)
}

// NormalizeCode uppercases a code for lookup; stored codes are uppercase.
func NormalizeCode(code string) (string, error) {
	up := make([]byte, 0, len(code))
	for i := 0; i < len(code); i++ {
		c := code[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		up = append(up, c)
	}
	norm := string(up)
	if !codePattern.MatchString(norm) {
		return "", ErrBadCode
	}
	return norm, nil
}

func validPresetName(name string) error {
	if name == "" || len(name) > maxPresetNameLen {
		return ErrBadPresetName
	}
	return nil
}

// CreateCode allocates a fresh, unused code and persists an empty record.
// Collisions are retried up to 100 times before failing hard.
func (s *Store) CreateCode(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < maxCollisionRetries; i++ {
		code := s.newCode()
		if _, err := s.docs.Get(ctx, storage.CollectionSaves, code); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("probe code: %w", err)
		}

		now := s.now()
		rec := Record{Code: code, CreatedAt: now, UpdatedAt: now, Presets: map[string]PresetSlot{}}
		if err := s.writeLocked(ctx, rec); err != nil {
			return "", err
		}
		return code, nil
	}
	return "", ErrCollisionExhausted
}

// Put upserts a preset slot and makes it the active preset.
func (s *Store) Put(ctx context.Context, code, preset string, snapshot json.RawMessage) error {
	if err := validPresetName(preset); err != nil {
		return err
	}
	code, err := NormalizeCode(code)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readLocked(ctx, code)
	if err != nil {
		return err
	}

	now := s.now()
	slot, exists := rec.Presets[preset]
	if !exists {
		slot.CreatedAt = now
	}
	slot.Snapshot = append(json.RawMessage(nil), snapshot...)
	slot.UpdatedAt = now
	rec.Presets[preset] = slot
	rec.ActivePreset = preset
	rec.UpdatedAt = now

	return s.writeLocked(ctx, rec)
}

// Get returns the record's listing view.
func (s *Store) Get(ctx context.Context, code string) (RecordInfo, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return RecordInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readLocked(ctx, code)
	if err != nil {
		return RecordInfo{}, err
	}

	info := RecordInfo{
		Code:         rec.Code,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		ActivePreset: rec.ActivePreset,
		Presets:      make([]PresetMeta, 0, len(rec.Presets)),
	}
	for name, slot := range rec.Presets {
		info.Presets = append(info.Presets, PresetMeta{Name: name, CreatedAt: slot.CreatedAt, UpdatedAt: slot.UpdatedAt})
	}
	sort.Slice(info.Presets, func(i, j int) bool { return info.Presets[i].Name < info.Presets[j].Name })
	return info, nil
}

// GetPreset returns the exact snapshot last put under (code, preset).
func (s *Store) GetPreset(ctx context.Context, code, preset string) (json.RawMessage, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readLocked(ctx, code)
	if err != nil {
		return nil, err
	}
	slot, ok := rec.Presets[preset]
	if !ok {
		return nil, ErrPresetNotFound
	}
	return slot.Snapshot, nil
}

// DeletePreset removes a preset slot. If it was active, the lexicographically
// smallest remaining preset becomes active, or none. A second delete of the
// same preset returns ErrPresetNotFound with no state change.
func (s *Store) DeletePreset(ctx context.Context, code, preset string) error {
	code, err := NormalizeCode(code)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readLocked(ctx, code)
	if err != nil {
		return err
	}
	if _, ok := rec.Presets[preset]; !ok {
		return ErrPresetNotFound
	}
	delete(rec.Presets, preset)

	if rec.ActivePreset == preset {
		rec.ActivePreset = ""
		names := make([]string, 0, len(rec.Presets))
		for name := range rec.Presets {
			names = append(names, name)
		}
		if len(names) > 0 {
			sort.Strings(names)
			rec.ActivePreset = names[0]
		}
	}
	rec.UpdatedAt = s.now()

	// A record with zero presets stays deletable but is kept; the code
	// remains valid for future puts.
	return s.writeLocked(ctx, rec)
}

func (s *Store) readLocked(ctx context.Context, code string) (Record, error) {
	doc, err := s.docs.Get(ctx, storage.CollectionSaves, code)
	if errors.Is(err, storage.ErrNotFound) {
		return Record{}, ErrCodeNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	if rec.Presets == nil {
		rec.Presets = map[string]PresetSlot{}
	}
	return rec, nil
}

func (s *Store) writeLocked(ctx context.Context, rec Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := s.docs.Put(ctx, storage.CollectionSaves, rec.Code, doc); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
