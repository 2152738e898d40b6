package save

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"marketsim/internal/storage"
)

func newTestStore() *Store {
	return NewStore(storage.NewMemory())
}

func TestCreateCodeFormat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := s.CreateCode(ctx)
		if err != nil {
			t.Fatalf("CreateCode: %v", err)
		}
		if !codePattern.MatchString(code) {
			t.Fatalf("code %q not 9 chars of [A-Z0-9]", code)
		}
		if seen[code] {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = true
	}
}

func TestCreateCodeCollisionExhausted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	first, err := s.CreateCode(ctx)
	if err != nil {
		t.Fatalf("CreateCode: %v", err)
	}

	// Force every candidate onto the existing code.
	s.newCode = func() string { return first }
	if _, err := s.CreateCode(ctx); !errors.Is(err, ErrCollisionExhausted) {
		t.Errorf("err = %v, want ErrCollisionExhausted", err)
	}
}

func TestPutGetPresetRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	code, err := s.CreateCode(ctx)
	if err != nil {
		t.Fatalf("CreateCode: %v", err)
	}

	snap := json.RawMessage(`{"config":{"mode":"classic"},"simulator":{"initialCapital":25000}}`)
	if err := s.Put(ctx, code, "main", snap); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.GetPreset(ctx, code, "main")
	if err != nil {
		t.Fatalf("GetPreset: %v", err)
	}
	if string(got) != string(snap) {
		t.Errorf("snapshot = %s, want exact last put", got)
	}

	info, err := s.Get(ctx, code)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if info.ActivePreset != "main" {
		t.Errorf("active = %q, want main", info.ActivePreset)
	}
	if len(info.Presets) != 1 || info.Presets[0].Name != "main" {
		t.Errorf("presets = %+v, want [main]", info.Presets)
	}
}

func TestLookupCaseInsensitive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	s.newCode = func() string { return "ABC123XYZ" }
	code, err := s.CreateCode(ctx)
	if err != nil {
		t.Fatalf("CreateCode: %v", err)
	}
	if code != "ABC123XYZ" {
		t.Fatalf("code = %q", code)
	}

	if err := s.Put(ctx, "abc123xyz", "p", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Put lowercase: %v", err)
	}
	if _, err := s.Get(ctx, "Abc123xyZ"); err != nil {
		t.Errorf("mixed-case Get: %v", err)
	}
}

func TestBadCodeAndPresetName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	if _, err := s.Get(ctx, "SHORT"); !errors.Is(err, ErrBadCode) {
		t.Errorf("short code: err = %v, want ErrBadCode", err)
	}
	if _, err := s.Get(ctx, "ABC-123-X"); !errors.Is(err, ErrBadCode) {
		t.Errorf("bad charset: err = %v, want ErrBadCode", err)
	}

	code, _ := s.CreateCode(ctx)
	if err := s.Put(ctx, code, "", json.RawMessage(`{}`)); !errors.Is(err, ErrBadPresetName) {
		t.Errorf("empty preset name: err = %v, want ErrBadPresetName", err)
	}
}

func TestDeletePresetActiveFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	code, _ := s.CreateCode(ctx)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := s.Put(ctx, code, name, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("Put %s: %v", name, err)
		}
	}
	// Last put wins the active slot.
	info, _ := s.Get(ctx, code)
	if info.ActivePreset != "mid" {
		t.Fatalf("active = %q, want mid", info.ActivePreset)
	}

	if err := s.DeletePreset(ctx, code, "mid"); err != nil {
		t.Fatalf("DeletePreset: %v", err)
	}
	info, _ = s.Get(ctx, code)
	if info.ActivePreset != "alpha" {
		t.Errorf("active after delete = %q, want lexicographically smallest (alpha)", info.ActivePreset)
	}

	// Deleting an inactive preset leaves the active slot alone.
	if err := s.DeletePreset(ctx, code, "zeta"); err != nil {
		t.Fatalf("DeletePreset: %v", err)
	}
	info, _ = s.Get(ctx, code)
	if info.ActivePreset != "alpha" {
		t.Errorf("active = %q, want alpha", info.ActivePreset)
	}

	// Removing the last preset clears the active slot; the code survives.
	if err := s.DeletePreset(ctx, code, "alpha"); err != nil {
		t.Fatalf("DeletePreset: %v", err)
	}
	info, err := s.Get(ctx, code)
	if err != nil {
		t.Fatalf("Get after emptying: %v", err)
	}
	if info.ActivePreset != "" || len(info.Presets) != 0 {
		t.Errorf("record not empty: %+v", info)
	}
}

func TestDeletePresetIdempotence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	code, _ := s.CreateCode(ctx)
	if err := s.Put(ctx, code, "only", json.RawMessage(`{"x":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := s.DeletePreset(ctx, code, "only"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := s.DeletePreset(ctx, code, "only"); !errors.Is(err, ErrPresetNotFound) {
		t.Errorf("second delete: err = %v, want ErrPresetNotFound", err)
	}
	if _, err := s.GetPreset(ctx, code, "only"); !errors.Is(err, ErrPresetNotFound) {
		t.Errorf("GetPreset after delete: err = %v, want ErrPresetNotFound", err)
	}
}

func TestUnknownCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	if _, err := s.Get(ctx, "ZZZZZZZZZ"); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("err = %v, want ErrCodeNotFound", err)
	}
	if err := s.Put(ctx, "ZZZZZZZZZ", "p", json.RawMessage(`{}`)); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("Put unknown code: err = %v, want ErrCodeNotFound", err)
	}
}
