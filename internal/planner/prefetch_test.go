package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

type fakeReader struct {
	mu    sync.Mutex
	files map[string]string
	fail  map[string]error
	calls []string
}

func (f *fakeReader) ReadFile(_ context.Context, repo, path string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, repo+"|"+path)
	f.mu.Unlock()
	if err, ok := f.fail[path]; ok {
		return "", err
	}
	content, ok := f.files[path]
	if !ok {
		return "", errors.New("not found")
	}
	return content, nil
}

func TestPrefetchResolvesAllInOrder(t *testing.T) {
	reader := &fakeReader{files: map[string]string{
		"a.go": "package a",
		"b.go": "package b",
	}}
	got := Prefetch(context.Background(), reader, "acme/widgets", []string{"a.go", "b.go"})
	if len(got) != 2 {
		t.Fatalf("got %d results", len(got))
	}
	if got[0].Path != "a.go" || got[0].Content != "package a" || got[0].Err != nil {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Path != "b.go" || got[1].Content != "package b" {
		t.Errorf("second = %+v", got[1])
	}
	for _, call := range reader.calls {
		if !strings.HasPrefix(call, "acme/widgets|") {
			t.Errorf("reader called without repo context: %s", call)
		}
	}
}

func TestPrefetchFailureDoesNotFailBatch(t *testing.T) {
	reader := &fakeReader{
		files: map[string]string{"ok.go": "fine"},
		fail:  map[string]error{"bad.go": errors.New("boom")},
	}
	got := Prefetch(context.Background(), reader, "", []string{"bad.go", "ok.go"})
	if got[0].Err == nil {
		t.Error("expected error for bad.go")
	}
	if got[1].Err != nil || got[1].Content != "fine" {
		t.Errorf("ok.go = %+v", got[1])
	}
}

func TestPrefetchNilReader(t *testing.T) {
	if got := Prefetch(context.Background(), nil, "", []string{"a.go"}); got != nil {
		t.Errorf("nil reader should yield nil, got %v", got)
	}
}

func TestInjectSkipsFailedAndBinary(t *testing.T) {
	files := []FetchedFile{
		{Path: "good.go", Content: "package good\n\nfunc A() {}"},
		{Path: "broken.go", Err: errors.New("read failed")},
		{Path: "blob.bin", Content: strings.Repeat("\x00\x01", 300)},
		{Path: "empty.go", Content: ""},
	}
	block, loaded := Inject(files)
	if len(loaded) != 1 || loaded[0] != "good.go" {
		t.Fatalf("loaded = %v", loaded)
	}
	if !strings.HasPrefix(block, "[PRE-LOADED FILES]") {
		t.Error("missing block header")
	}
	if !strings.Contains(block, "[FILE: good.go]") {
		t.Error("missing file section header")
	}
	if strings.Contains(block, "blob.bin") || strings.Contains(block, "broken.go") {
		t.Error("skipped files leaked into the block")
	}
}

func TestInjectTruncatesLargeFile(t *testing.T) {
	big := strings.Repeat("x", maxFileChars+5000)
	block, loaded := Inject([]FetchedFile{{Path: "big.go", Content: big}})
	if len(loaded) != 1 {
		t.Fatal("large file should still be injected")
	}
	marker := fmt.Sprintf("[truncated, %d chars total]", len(big))
	if !strings.Contains(block, marker) {
		t.Errorf("missing truncation marker %q", marker)
	}
	if len(block) > maxFileChars+500 {
		t.Errorf("block length %d far exceeds the per-file cap", len(block))
	}
}

func TestInjectRespectsTotalBudget(t *testing.T) {
	content := strings.Repeat("y", maxFileChars-100)
	var files []FetchedFile
	for i := 0; i < 10; i++ {
		files = append(files, FetchedFile{Path: fmt.Sprintf("f%d.go", i), Content: content})
	}
	block, loaded := Inject(files)
	if len(block) > maxInjectionChars+200 {
		t.Errorf("block length %d exceeds total cap", len(block))
	}
	if len(loaded) >= 10 {
		t.Error("total budget did not stop file admission")
	}
	if len(loaded) == 0 {
		t.Error("budget admitted nothing")
	}
}

func TestInjectNothingUsable(t *testing.T) {
	block, loaded := Inject([]FetchedFile{{Path: "x.go", Err: errors.New("nope")}})
	if block != "" || loaded != nil {
		t.Errorf("expected empty result, got %q / %v", block, loaded)
	}
	if block, loaded := Inject(nil); block != "" || loaded != nil {
		t.Error("nil input should yield empty result")
	}
}

func TestLooksBinary(t *testing.T) {
	if looksBinary("plain text with\nnewlines and\ttabs") {
		t.Error("text misclassified as binary")
	}
	if !looksBinary(strings.Repeat("\x00", 100)) {
		t.Error("NUL blob not classified as binary")
	}
	if looksBinary("") {
		t.Error("empty content is not binary")
	}
}
