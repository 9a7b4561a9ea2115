package discover

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/DeusData/tapaconv/internal/lang"
)

// IGNORE_PATTERNS are directory names to skip during discovery.
var IGNORE_PATTERNS = map[string]bool{
	".cache": true, ".git": true, ".hg": true, ".svn": true,
	".idea": true, ".vs": true, ".vscode": true, ".tmp": true,
	"_x": true, "bin": true, "build": true, "dist": true,
	"obj": true, "out": true, "tmp": true, "temp": true,
	"vendor": true, "work": true,
}

// IGNORE_SUFFIXES are file suffixes to skip.
var IGNORE_SUFFIXES = map[string]bool{
	".tmp": true, "~": true, ".o": true, ".a": true, ".so": true,
}

// headerExts are C++ headers; they rarely hold a top kernel.
var headerExts = map[string]bool{
	".h": true, ".hh": true, ".hpp": true, ".hxx": true,
}

// FileInfo represents a discovered kernel source file.
type FileInfo struct {
	Path     string        // absolute path
	RelPath  string        // relative to the discovery root
	Language lang.Language // detected language
}

// Options configures file discovery.
type Options struct {
	IgnoreFile     string // path to a .tapaconvignore file (optional)
	IncludeHeaders bool
	// SkipSuffix drops files whose base name (without extension) ends with
	// it, so converted outputs are not picked up again. Default "_tapa".
	SkipSuffix string
}

func (o *Options) skipSuffix() string {
	if o == nil || o.SkipSuffix == "" {
		return "_tapa"
	}
	return o.SkipSuffix
}

// shouldSkipDir returns true if the directory should be skipped during discovery.
func shouldSkipDir(name, rel string, extraIgnore []string) bool {
	if IGNORE_PATTERNS[name] {
		return true
	}
	for _, pattern := range extraIgnore {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

// Discover returns the kernel source files under root, sorted by RelPath.
// A root that is itself a file is returned as the only entry.
func Discover(ctx context.Context, root string, opts *Options) ([]FileInfo, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		l, _ := lang.LanguageForExtension(filepath.Ext(root))
		return []FileInfo{{Path: root, RelPath: filepath.Base(root), Language: l}}, nil
	}

	var extraIgnore []string
	if opts != nil && opts.IgnoreFile != "" {
		extraIgnore, _ = loadIgnoreFile(opts.IgnoreFile)
	} else {
		extraIgnore, _ = loadIgnoreFile(filepath.Join(root, ".tapaconvignore"))
	}
	skip := opts.skipSuffix()
	withHeaders := opts != nil && opts.IncludeHeaders

	var files []FileInfo
	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return filepath.SkipDir
		}

		rel, _ := filepath.Rel(root, path)

		if info.IsDir() {
			if path != root && shouldSkipDir(info.Name(), rel, extraIgnore) {
				return filepath.SkipDir
			}
			return nil
		}

		for suffix := range IGNORE_SUFFIXES {
			if strings.HasSuffix(path, suffix) {
				return nil
			}
		}
		for _, pattern := range extraIgnore {
			if matched, _ := filepath.Match(pattern, info.Name()); matched {
				return nil
			}
		}

		ext := filepath.Ext(path)
		l, ok := lang.LanguageForExtension(ext)
		if !ok || (headerExts[ext] && !withHeaders) {
			return nil
		}
		if strings.HasSuffix(strings.TrimSuffix(info.Name(), ext), skip) {
			return nil
		}
		files = append(files, FileInfo{
			Path:     path,
			RelPath:  filepath.ToSlash(rel),
			Language: l,
		})
		return nil
	})

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, err
}

func loadIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, line)
		}
	}
	return patterns, scanner.Err()
}
