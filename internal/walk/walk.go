package walk

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aman-cerp/retrieval-skill/internal/gitignore"
)

// gitignoreCacheSize bounds the matcher cache so long-running watch
// processes don't grow without limit.
const gitignoreCacheSize = 1000

// Walker discovers indexable files under a root directory.
type Walker struct {
	gitignoreCache *lru.Cache[string, *gitignore.Matcher]
	cacheMu        sync.RWMutex
}

// New creates a Walker.
func New() (*Walker, error) {
	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitignore cache: %w", err)
	}
	return &Walker{gitignoreCache: cache}, nil
}

// Walk streams every indexable file under opts.RootDir. The returned channel
// is closed once traversal completes or ctx is cancelled. Symlink cycles are
// broken by tracking the real path of every directory visited.
func (w *Walker) Walk(ctx context.Context, opts *Options) (<-chan Result, error) {
	if opts == nil {
		opts = &Options{}
	}

	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", absRoot)
	}

	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}

	results := make(chan Result, 64)
	visited := make(map[string]bool)

	go func() {
		defer close(results)
		w.walk(ctx, absRoot, absRoot, opts, maxFileSize, visited, results)
	}()

	return results, nil
}

func (w *Walker) walk(ctx context.Context, absRoot, dir string, opts *Options, maxFileSize int64, visited map[string]bool, results chan<- Result) {
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		realDir = dir
	}
	if visited[realDir] {
		return
	}
	visited[realDir] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}

		path := filepath.Join(dir, entry.Name())
		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			continue
		}

		if entry.IsDir() {
			if w.shouldExcludeDir(relPath, opts) {
				continue
			}
			w.walk(ctx, absRoot, path, opts, maxFileSize, visited, results)
			continue
		}

		if entry.Type()&fs.ModeSymlink != 0 {
			if !opts.FollowSymlinks {
				continue
			}
			target, err := filepath.EvalSymlinks(path)
			if err != nil {
				continue
			}
			targetInfo, err := os.Stat(target)
			if err != nil {
				continue
			}
			if targetInfo.IsDir() {
				w.walk(ctx, absRoot, target, opts, maxFileSize, visited, results)
				continue
			}
			path = target
		}

		kind, ok := DetectKind(relPath)
		if !ok {
			continue
		}

		if w.shouldExcludeFile(relPath, absRoot, opts) {
			continue
		}

		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if fi.Size() > maxFileSize {
			continue
		}

		if len(opts.IncludePatterns) > 0 && !matchesAnyPattern(relPath, opts.IncludePatterns) {
			continue
		}

		file := &FileInfo{
			Path:    relPath,
			AbsPath: path,
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
			Kind:    kind,
		}

		select {
		case results <- Result{File: file}:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Walker) shouldExcludeDir(relPath string, opts *Options) bool {
	for _, pattern := range defaultExcludeDirs {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	return false
}

func (w *Walker) shouldExcludeFile(relPath, absRoot string, opts *Options) bool {
	base := filepath.Base(relPath)

	for _, pattern := range sensitiveFilePatterns {
		if matchFilePattern(base, relPath, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchFilePattern(base, relPath, pattern) {
			return true
		}
	}
	if opts.RespectGitignore && w.isGitignored(relPath, absRoot) {
		return true
	}
	return false
}

func (w *Walker) isGitignored(relPath, absRoot string) bool {
	rootMatcher := w.getGitignoreMatcher(absRoot, "")
	if rootMatcher != nil && rootMatcher.Match(relPath, false) {
		return true
	}

	parts := strings.Split(filepath.Dir(relPath), string(filepath.Separator))
	currentDir := absRoot
	currentBase := ""
	for _, part := range parts {
		if part == "." {
			continue
		}
		currentDir = filepath.Join(currentDir, part)
		if currentBase == "" {
			currentBase = part
		} else {
			currentBase = filepath.Join(currentBase, part)
		}
		matcher := w.getGitignoreMatcher(currentDir, currentBase)
		if matcher != nil && matcher.Match(relPath, false) {
			return true
		}
	}
	return false
}

func (w *Walker) getGitignoreMatcher(dir, base string) *gitignore.Matcher {
	w.cacheMu.RLock()
	matcher, ok := w.gitignoreCache.Get(dir)
	w.cacheMu.RUnlock()
	if ok {
		return matcher
	}

	gitignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		return nil
	}

	matcher = gitignore.New()
	if err := matcher.AddFromFile(gitignorePath, base); err != nil {
		return nil
	}

	w.cacheMu.Lock()
	w.gitignoreCache.Add(dir, matcher)
	w.cacheMu.Unlock()

	return matcher
}

// InvalidateGitignoreCache clears the cached matchers; call after any
// .gitignore file under the root changes.
func (w *Walker) InvalidateGitignoreCache() {
	w.cacheMu.Lock()
	defer w.cacheMu.Unlock()
	w.gitignoreCache.Purge()
}

func matchesAnyPattern(relPath string, patterns []string) bool {
	base := filepath.Base(relPath)
	for _, pattern := range patterns {
		if matchFilePattern(base, relPath, pattern) {
			return true
		}
	}
	return false
}

var defaultExcludeDirs = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/.aws/**",
	"**/.gcp/**",
	"**/.azure/**",
	"**/.ssh/**",
}

var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	"*password*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
}

func matchDirPattern(relPath, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		suffix = strings.TrimSuffix(suffix, "/**")
		parts := strings.Split(relPath, string(filepath.Separator))
		for _, part := range parts {
			if part == suffix {
				return true
			}
		}
		return false
	}
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return relPath == prefix || strings.HasPrefix(relPath, prefix+string(filepath.Separator))
	}
	return relPath == pattern || strings.HasPrefix(relPath, pattern+string(filepath.Separator))
}

func matchFilePattern(baseName, relPath, pattern string) bool {
	if strings.HasSuffix(pattern, "/**") && !strings.HasPrefix(pattern, "**/") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return strings.HasPrefix(relPath, prefix+string(filepath.Separator))
	}
	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		if strings.HasPrefix(suffix, "*.") {
			ext := strings.TrimPrefix(suffix, "*")
			return strings.HasSuffix(baseName, ext)
		}
		parts := strings.Split(relPath, string(filepath.Separator))
		for _, part := range parts {
			if part == suffix {
				return true
			}
		}
		return false
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1 {
		middle := strings.TrimSuffix(strings.TrimPrefix(pattern, "*"), "*")
		return strings.Contains(strings.ToLower(baseName), strings.ToLower(middle))
	}
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(pattern, ".") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(baseName, prefix)
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(baseName, strings.TrimPrefix(pattern, "*"))
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(baseName, strings.TrimSuffix(pattern, "*"))
	}
	return baseName == pattern
}
