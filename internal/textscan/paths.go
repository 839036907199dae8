// Package textscan extracts structured references (file paths, repository
// slugs) from free-form model output. The planner uses it to resolve plan
// steps and the compressor uses it to summarize evicted history.
package textscan

import (
	"regexp"
	"strings"
)

// codeExtensions are the file extensions recognized as code or config.
var codeExtensions = []string{
	"ts", "tsx", "js", "jsx", "mjs", "cjs", "py", "rs", "go", "java", "kt",
	"rb", "php", "c", "h", "cpp", "hpp", "cs", "swift", "md", "json", "yaml",
	"yml", "toml", "ini", "sql", "sh", "bash", "html", "css", "scss", "vue",
	"svelte", "proto", "graphql", "tf", "dockerfile", "env", "txt", "xml",
}

// mediaExtensions are excluded from extraction even when slash-qualified.
var mediaExtensions = map[string]struct{}{
	"png": {}, "jpg": {}, "jpeg": {}, "gif": {}, "svg": {}, "ico": {},
	"webp": {}, "pdf": {}, "zip": {}, "tar": {}, "gz": {}, "woff": {},
	"woff2": {}, "ttf": {}, "eot": {}, "mp3": {}, "mp4": {}, "mov": {},
	"avi": {}, "wav": {},
}

var (
	extAlternation = strings.Join(codeExtensions, "|")

	// Slash-qualified paths: at least one directory separator and a known
	// extension.
	pathRe = regexp.MustCompile(`(?:\./)?[\w.-]+(?:/[\w.-]+)+\.(?:` + extAlternation + `)\b(?::\d+)?`)

	// Bare filenames preceded by whitespace, backtick, or quote.
	bareRe = regexp.MustCompile("(?:^|[\\s`'\"(])([\\w.-]+\\.(?:" + extAlternation + "))\\b(?::\\d+)?")

	versionSegmentRe = regexp.MustCompile(`/v\d+\.\d+`)
	lineSuffixRe     = regexp.MustCompile(`:\d+$`)
)

// FilePaths returns the deduplicated file paths referenced in text.
// Trailing :line suffixes and leading ./ are stripped; media files,
// version-like /vN.N/ paths, and npm-scoped @pkg references are excluded.
func FilePaths(text string) []string {
	if text == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string

	add := func(raw string) {
		p := lineSuffixRe.ReplaceAllString(raw, "")
		p = strings.TrimPrefix(p, "./")
		if p == "" || excluded(p) {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	for _, m := range pathRe.FindAllStringIndex(text, -1) {
		// Skip npm scopes: the match immediately follows an '@'.
		if m[0] > 0 && text[m[0]-1] == '@' {
			continue
		}
		add(text[m[0]:m[1]])
	}
	for _, m := range bareRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	return out
}

func excluded(p string) bool {
	if versionSegmentRe.MatchString(p) {
		return true
	}
	if strings.HasPrefix(p, "@") {
		return true
	}
	if idx := strings.LastIndexByte(p, '.'); idx >= 0 {
		ext := strings.ToLower(p[idx+1:])
		if _, ok := mediaExtensions[ext]; ok {
			return true
		}
	}
	return false
}

var (
	explicitRepoRe = regexp.MustCompile(`(?i)(?:repository|repo|project|codebase)\s*[:=]?\s*([\w.-]+/[\w.-]+)`)
	githubURLRe    = regexp.MustCompile(`github\.com/([\w.-]+)/([\w.-]+)`)
	prepositionRe  = regexp.MustCompile(`(?i)(?:\bin\b|\bfrom\b|\bon\b|\bat\b|\bof\b)\s+([A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+)\b`)
)

// RepoContext scans text for an OWNER/REPO reference. Matches are tried in
// priority order: explicit "repo: owner/name" labels, github.com URLs, then
// prepositional "in owner/name" phrasing. Returns "" when nothing matches.
func RepoContext(text string) string {
	if m := explicitRepoRe.FindStringSubmatch(text); m != nil {
		return trimRepo(m[1])
	}
	if m := githubURLRe.FindStringSubmatch(text); m != nil {
		return m[1] + "/" + trimRepo(m[2])
	}
	if m := prepositionRe.FindStringSubmatch(text); m != nil {
		candidate := trimRepo(m[1])
		// A prepositional match that is really a file path is noise.
		if strings.Contains(candidate, ".") && len(FilePaths(candidate)) > 0 {
			return ""
		}
		return candidate
	}
	return ""
}

func trimRepo(s string) string {
	s = strings.TrimSuffix(s, ".git")
	return strings.Trim(s, ".,;:)")
}
