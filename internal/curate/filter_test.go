package curate

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yfan/redsift/internal/dataset"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestFilterRemovesImagelessNotes(t *testing.T) {
	s := openStore(t)
	seedNote(t, s, "A", "long enough caption", map[string]string{"0.jpg": "x", "1.jpg": "y"})
	seedNote(t, s, "C", "also long enough", nil)

	f := NewFilter(&FilterConfig{Store: s, Predicates: []Predicate{HasImages()}})
	rep, err := f.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if rep.Scanned != 2 || rep.Kept != 1 {
		t.Errorf("report = %+v", rep)
	}
	removed := rep.RemovedIDs()
	if len(removed) != 1 || removed[0] != "C" {
		t.Errorf("removed = %v, want [C]", removed)
	}
	if s.Has("C") {
		t.Error("C still indexed")
	}
	if !s.Has("A") {
		t.Error("A should be kept")
	}
}

func TestFilterCaptionLength(t *testing.T) {
	s := openStore(t)
	// 13 CJK runes, past a 10-rune minimum.
	seedNote(t, s, "long", "这是一段足够长的中文说明文", map[string]string{"0.jpg": "x"})
	seedNote(t, s, "short", "太短了", map[string]string{"0.jpg": "y"})

	f := NewFilter(&FilterConfig{Store: s, Predicates: []Predicate{CaptionNonEmpty(10)}})
	rep, err := f.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	removed := rep.RemovedIDs()
	if len(removed) != 1 || removed[0] != "short" {
		t.Errorf("removed = %v, want [short]", removed)
	}
	if !strings.Contains(rep.Removed[0].Reason, "caption") {
		t.Errorf("reason = %q, want caption failure", rep.Removed[0].Reason)
	}
}

func TestFilterMissingImageFile(t *testing.T) {
	s := openStore(t)
	seedNote(t, s, "ok", "caption here", map[string]string{"0.jpg": "x"})
	rec := seedNote(t, s, "broken", "caption here", map[string]string{"0.jpg": "y"})
	if err := os.Remove(s.ResolvePath(rec.ImageRefs[0])); err != nil {
		t.Fatalf("remove image: %v", err)
	}

	f := NewFilter(&FilterConfig{Store: s, Predicates: []Predicate{HasImages()}})
	rep, err := f.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	removed := rep.RemovedIDs()
	if len(removed) != 1 || removed[0] != "broken" {
		t.Errorf("removed = %v, want [broken]", removed)
	}
}

func TestFilterMinImageSize(t *testing.T) {
	s := openStore(t)

	big := s.ImageDir("big")
	small := s.ImageDir("small")
	for dir, size := range map[string]int{big: 600, small: 200} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "0.png"), pngBytes(t, size, size), 0o644); err != nil {
			t.Fatalf("write png: %v", err)
		}
	}
	seedNote(t, s, "big", "caption", nil)
	seedNote(t, s, "small", "caption", nil)
	bigRec, _ := s.Get("big")
	bigRec.ImageRefs = []string{dataset.ImageRef("big", "0.png")}
	smallRec, _ := s.Get("small")
	smallRec.ImageRefs = []string{dataset.ImageRef("small", "0.png")}

	f := NewFilter(&FilterConfig{Store: s, Predicates: []Predicate{MinImageSize(500, 500)}})
	rep, err := f.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	removed := rep.RemovedIDs()
	if len(removed) != 1 || removed[0] != "small" {
		t.Errorf("removed = %v, want [small]", removed)
	}
}

func TestFilterDedupe(t *testing.T) {
	s := openStore(t)
	seedNote(t, s, "a-first", "caption one", map[string]string{"0.jpg": "same-bytes"})
	seedNote(t, s, "b-dup", "caption two", map[string]string{"0.jpg": "same-bytes"})
	seedNote(t, s, "c-unique", "caption three", map[string]string{"0.jpg": "other-bytes"})

	f := NewFilter(&FilterConfig{Store: s, Dedupe: true})
	rep, err := f.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	removed := rep.RemovedIDs()
	if len(removed) != 1 || removed[0] != "b-dup" {
		t.Errorf("removed = %v, want [b-dup] (first id in order survives)", removed)
	}
	if !strings.Contains(rep.Removed[0].Reason, "duplicate of a-first") {
		t.Errorf("reason = %q", rep.Removed[0].Reason)
	}
}

func TestFilterDryRun(t *testing.T) {
	s := openStore(t)
	seedNote(t, s, "doomed", "caption", nil)

	f := NewFilter(&FilterConfig{Store: s, Predicates: []Predicate{HasImages()}, DryRun: true})
	rep, err := f.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(rep.Removed) != 1 {
		t.Errorf("dry run should still report removals: %+v", rep)
	}
	if !s.Has("doomed") {
		t.Error("dry run must not remove records")
	}
}

func TestFilterIdempotent(t *testing.T) {
	s := openStore(t)
	seedNote(t, s, "keep", "caption long enough", map[string]string{"0.jpg": "x"})
	seedNote(t, s, "drop", "caption long enough", nil)

	cfg := &FilterConfig{Store: s, Predicates: []Predicate{HasImages()}}
	rep1, err := NewFilter(cfg).Run()
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if len(rep1.Removed) != 1 {
		t.Fatalf("first run removed %d, want 1", len(rep1.Removed))
	}

	rep2, err := NewFilter(cfg).Run()
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if len(rep2.Removed) != 0 || rep2.Kept != 1 {
		t.Errorf("second run = %+v, want nothing removed", rep2)
	}
}
