package indexer

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/fyrsmithlabs/ragmemory/internal/ignore"
)

// sniffBytes is how much of a file's head is inspected to decide
// whether it is binary: the first 8 KiB is checked for NUL bytes or
// invalid UTF-8.
const sniffBytes = 8192

// discover walks root, honoring matcher, and returns every regular file
// path (relative to root, slash-separated) that is not excluded and not
// binary. Delegates exclusion to ignore.Matcher instead of a fixed
// directory name set, and adds a binary-sniff step on top of the walk.
func discover(root string, matcher *ignore.Matcher) ([]string, error) {
	var files []string

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if relPath == "." {
			return nil
		}

		if info.IsDir() {
			if matcher.Match(relPath) {
				return filepath.SkipDir
			}
			return nil
		}

		if matcher.Match(relPath) {
			return nil
		}

		isBinary, sniffErr := looksBinary(path)
		if sniffErr != nil {
			// Unreadable files are reported as failed at the file level,
			// not as a walk-aborting error: the file is kept so that
			// indexFile's read fails and records it.
			files = append(files, filepath.ToSlash(relPath))
			return nil
		}
		if isBinary {
			return nil
		}

		files = append(files, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// looksBinary sniffs the first sniffBytes bytes of path for NUL bytes or
// invalid UTF-8.
func looksBinary(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, sniffBytes)
	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	buf = buf[:n]

	if bytes.IndexByte(buf, 0) >= 0 {
		return true, nil
	}
	return !utf8.Valid(buf), nil
}
