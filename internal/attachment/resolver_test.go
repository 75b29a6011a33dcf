package attachment

import (
	"context"
	"errors"
	"testing"
)

// fakeStore serves attachments from a map and counts downloads, so tests
// can assert which refs were fetched.
type fakeStore struct {
	files     map[string][]byte
	statErr   map[string]error
	downloads []string
}

func (s *fakeStore) Stat(_ context.Context, key, _ string) (*FileInfo, error) {
	if err := s.statErr[key]; err != nil {
		return nil, err
	}
	data, ok := s.files[key]
	if !ok {
		return nil, unavailable(key)
	}
	return &FileInfo{Key: key, ContentType: "application/pdf", ContentLength: int64(len(data))}, nil
}

func (s *fakeStore) Download(_ context.Context, key, _ string) ([]byte, error) {
	data, ok := s.files[key]
	if !ok {
		return nil, unavailable(key)
	}
	s.downloads = append(s.downloads, key)
	return data, nil
}

func TestCheckExistence(t *testing.T) {
	store := &fakeStore{files: map[string][]byte{"doc-1": []byte("a"), "doc-2": []byte("b")}}
	r := NewResolver(store)

	if err := r.CheckExistence(context.Background(), []string{"doc-1", "doc-2"}, "client"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := r.CheckExistence(context.Background(), []string{"doc-1", "missing"}, "client")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for missing ref, got %v", err)
	}
}

func TestApplySizePolicyNoCeiling(t *testing.T) {
	store := &fakeStore{files: map[string][]byte{
		"doc-1": make([]byte, 100),
		"doc-2": make([]byte, 2000),
	}}
	r := NewResolver(store)

	it := r.Content(context.Background(), []string{"doc-1", "doc-2"}, "client")
	kept, err := ApplySizePolicy(it, PolicyLimit, 50, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kept) != 2 {
		t.Errorf("no ceiling must keep everything, got %d", len(kept))
	}
}

func TestApplySizePolicyBaseOverBudget(t *testing.T) {
	store := &fakeStore{files: map[string][]byte{"doc-1": make([]byte, 10)}}
	r := NewResolver(store)

	it := r.Content(context.Background(), []string{"doc-1"}, "client")
	_, err := ApplySizePolicy(it, PolicyLimit, 1000, 1000)
	if !errors.Is(err, ErrContentTooLarge) {
		t.Errorf("expected ErrContentTooLarge, got %v", err)
	}
	if len(store.downloads) != 0 {
		t.Errorf("nothing should be downloaded, got %v", store.downloads)
	}
}

func TestApplySizePolicyLimit(t *testing.T) {
	// Budget 1000 with base 100: doc-1 (300) fits, doc-2 (800) would
	// overflow and is skipped, doc-3 (400) still fits afterwards.
	store := &fakeStore{files: map[string][]byte{
		"doc-1": make([]byte, 300),
		"doc-2": make([]byte, 800),
		"doc-3": make([]byte, 400),
	}}
	r := NewResolver(store)

	it := r.Content(context.Background(), []string{"doc-1", "doc-2", "doc-3"}, "client")
	kept, err := ApplySizePolicy(it, PolicyLimit, 100, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(kept) != 2 || kept[0].Ref != "doc-1" || kept[1].Ref != "doc-3" {
		t.Fatalf("expected doc-1 and doc-3 kept, got %+v", kept)
	}
	for _, d := range store.downloads {
		if d == "doc-2" {
			t.Error("skipped attachment must not be downloaded")
		}
	}
}

func TestApplySizePolicyFirst(t *testing.T) {
	// Budget 1000 with base 100: doc-1 (300) fits, doc-2 (800) would
	// overflow; first-policy stops there and doc-3 is never considered.
	store := &fakeStore{files: map[string][]byte{
		"doc-1": make([]byte, 300),
		"doc-2": make([]byte, 800),
		"doc-3": make([]byte, 100),
	}}
	r := NewResolver(store)

	it := r.Content(context.Background(), []string{"doc-1", "doc-2", "doc-3"}, "client")
	kept, err := ApplySizePolicy(it, PolicyFirst, 100, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(kept) != 1 || kept[0].Ref != "doc-1" {
		t.Fatalf("expected only doc-1 kept, got %+v", kept)
	}
	if len(store.downloads) != 1 || store.downloads[0] != "doc-1" {
		t.Errorf("only doc-1 should be downloaded, got %v", store.downloads)
	}
}

func TestApplySizePolicyFirstSmallThenOversized(t *testing.T) {
	store := &fakeStore{files: map[string][]byte{
		"small": make([]byte, 1024),
		"huge":  make([]byte, 1<<20),
	}}
	r := NewResolver(store)

	it := r.Content(context.Background(), []string{"small", "huge"}, "client")
	kept, err := ApplySizePolicy(it, PolicyFirst, 0, 10*1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kept) != 1 || kept[0].Ref != "small" {
		t.Fatalf("expected only the small attachment kept, got %+v", kept)
	}

	total := int64(0)
	for _, k := range kept {
		total += k.Size
	}
	if total >= 10*1024 {
		t.Errorf("kept content %d must stay under the budget", total)
	}
}

func TestApplySizePolicyStatFailure(t *testing.T) {
	store := &fakeStore{
		files:   map[string][]byte{"doc-1": make([]byte, 10)},
		statErr: map[string]error{"doc-1": errors.New("store timeout")},
	}
	r := NewResolver(store)

	it := r.Content(context.Background(), []string{"doc-1"}, "client")
	if _, err := ApplySizePolicy(it, PolicyLimit, 0, 100); err == nil {
		t.Fatal("expected store error to surface")
	}
}
