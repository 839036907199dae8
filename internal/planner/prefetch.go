package planner

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	// maxFileChars caps a single file's contribution to the injection block.
	maxFileChars = 8000

	// maxInjectionChars caps the whole injection block.
	maxInjectionChars = 50000

	binarySampleSize  = 512
	binaryControlFrac = 0.10
)

// FileReader resolves a repository-relative path to its contents. The repo
// argument is the "owner/name" context the plan was produced under and may
// be empty when none was detected.
type FileReader interface {
	ReadFile(ctx context.Context, repo, path string) (string, error)
}

// FetchedFile is one resolved plan reference. Content is empty when the
// read failed; Err records why.
type FetchedFile struct {
	Path    string
	Content string
	Err     error
}

// Prefetch resolves every unique file referenced by the plan in parallel.
// Individual read failures never fail the batch; they surface as entries
// with Err set so the injection step can skip them. Results come back in
// plan reference order.
func Prefetch(ctx context.Context, reader FileReader, repo string, files []string) []FetchedFile {
	if reader == nil || len(files) == 0 {
		return nil
	}

	out := make([]FetchedFile, len(files))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for i, path := range files {
		g.Go(func() error {
			content, err := reader.ReadFile(gctx, repo, path)
			mu.Lock()
			out[i] = FetchedFile{Path: path, Content: content, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Inject formats the successfully fetched files as a ground-truth context
// block for the work phase. Binary-looking and failed files are skipped,
// oversized files are truncated, and the block stops growing once the
// total cap is reached. Returns the block (empty when nothing usable) and
// the paths that made it in.
func Inject(files []FetchedFile) (string, []string) {
	var b strings.Builder
	var loaded []string

	for _, f := range files {
		if f.Err != nil || f.Content == "" || looksBinary(f.Content) {
			continue
		}

		section := f.Content
		if len(section) > maxFileChars {
			section = section[:maxFileChars] +
				fmt.Sprintf("\n... [truncated, %d chars total]", len(f.Content))
		}
		entry := fmt.Sprintf("[FILE: %s]\n%s\n\n", f.Path, section)

		if b.Len()+len(entry) > maxInjectionChars {
			continue
		}
		b.WriteString(entry)
		loaded = append(loaded, f.Path)
	}

	if len(loaded) == 0 {
		return "", nil
	}
	return "[PRE-LOADED FILES]\nThe following files have already been loaded. Do NOT read these again; use the content below directly.\n\n" + b.String(), loaded
}

// looksBinary samples the head of the content and reports whether control
// characters dominate enough to make injection useless.
func looksBinary(content string) bool {
	sample := content
	if len(sample) > binarySampleSize {
		sample = sample[:binarySampleSize]
	}
	if len(sample) == 0 {
		return false
	}
	control := 0
	for i := 0; i < len(sample); i++ {
		c := sample[i]
		if c < 0x20 && c != '\n' && c != '\r' && c != '\t' {
			control++
		}
	}
	return float64(control)/float64(len(sample)) > binaryControlFrac
}
