package fs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// LocalFile is a regular file found under an import root.
type LocalFile struct {
	AbsPath  string
	RelDir   string // slash-separated directory relative to the root, "" for the root
	Name     string
	Size     int64
	MimeType string // sniffed from content, without parameters
}

// RelPath is the slash-separated path of the file relative to the root.
func (f LocalFile) RelPath() string {
	if f.RelDir == "" {
		return f.Name
	}
	return f.RelDir + "/" + f.Name
}

// SkippedEntry is an entry the scanner would not import.
type SkippedEntry struct {
	RelPath string `json:"path"`
	Reason  string `json:"reason"`
}

// Scan is the result of walking an import root. Dirs lists every
// directory below the root, parents before children.
type Scan struct {
	Root    string
	Dirs    []string
	Files   []LocalFile
	Skipped []SkippedEntry
}

// Scanner walks local directory trees for import.
type Scanner struct {
	patterns []string
}

// NewScanner creates a Scanner that ignores the given patterns in addition
// to the defaults and each root's ignore file.
func NewScanner(patterns []string) *Scanner {
	return &Scanner{patterns: patterns}
}

// Scan walks root. Symlinks and special files are reported as skipped;
// ignored entries are left out entirely.
func (s *Scanner) Scan(root string) (*Scan, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	info, err := os.Lstat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlinks not supported: %s", absRoot)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", absRoot)
	}

	fromFile, err := ParseIgnoreFile(filepath.Join(absRoot, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	patterns := append(append(append([]string(nil), defaultIgnorePatterns...), s.patterns...), fromFile...)
	matcher := NewIgnoreMatcher(patterns)

	scan := &Scan{Root: absRoot}
	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == absRoot {
			return nil
		}
		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			return fmt.Errorf("relative path of %s: %w", p, err)
		}
		if matcher.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		relSlash := filepath.ToSlash(rel)

		if d.IsDir() {
			scan.Dirs = append(scan.Dirs, relSlash)
			return nil
		}
		if reason := unsupportedReason(d.Type()); reason != "" {
			scan.Skipped = append(scan.Skipped, SkippedEntry{RelPath: relSlash, Reason: reason})
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		mtype, err := mimetype.DetectFile(p)
		if err != nil {
			return fmt.Errorf("detecting type of %s: %w", p, err)
		}
		dir := filepath.ToSlash(filepath.Dir(rel))
		if dir == "." {
			dir = ""
		}
		scan.Files = append(scan.Files, LocalFile{
			AbsPath:  p,
			RelDir:   dir,
			Name:     d.Name(),
			Size:     fi.Size(),
			MimeType: baseMediaType(mtype.String()),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return scan, nil
}

// Stat describes a single local file for upload.
func (s *Scanner) Stat(path string) (LocalFile, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return LocalFile{}, fmt.Errorf("resolving absolute path: %w", err)
	}
	info, err := os.Lstat(absPath)
	if err != nil {
		return LocalFile{}, fmt.Errorf("stat path: %w", err)
	}
	if info.IsDir() {
		return LocalFile{}, fmt.Errorf("path is a directory: %s", absPath)
	}
	if reason := unsupportedReason(info.Mode().Type()); reason != "" {
		return LocalFile{}, fmt.Errorf("%s: %s", reason, absPath)
	}
	mtype, err := mimetype.DetectFile(absPath)
	if err != nil {
		return LocalFile{}, fmt.Errorf("detecting type of %s: %w", absPath, err)
	}
	return LocalFile{
		AbsPath:  absPath,
		Name:     filepath.Base(absPath),
		Size:     info.Size(),
		MimeType: baseMediaType(mtype.String()),
	}, nil
}

// Open opens a scanned file for reading.
func (s *Scanner) Open(f LocalFile) (io.ReadCloser, error) {
	return os.Open(f.AbsPath)
}

func unsupportedReason(mode fs.FileMode) string {
	switch {
	case mode&fs.ModeSymlink != 0:
		return "symlinks not supported"
	case mode&fs.ModeDevice != 0:
		return "device files not supported"
	case mode&fs.ModeNamedPipe != 0:
		return "named pipes not supported"
	case mode&fs.ModeSocket != 0:
		return "sockets not supported"
	case !mode.IsRegular():
		return "not a regular file"
	}
	return ""
}

// baseMediaType strips parameters such as "; charset=utf-8".
func baseMediaType(mediaType string) string {
	base, _, _ := strings.Cut(mediaType, ";")
	return strings.TrimSpace(base)
}
