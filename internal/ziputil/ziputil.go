// Package ziputil zips local source directories for staged deploys
// (Cloud Functions source uploads, Cloud Build staging objects).
package ziputil

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExcludes are skipped at any depth when zipping a source tree.
var DefaultExcludes = []string{
	".git",
	".env",
	"__pycache__",
	"node_modules",
	".DS_Store",
	"*.pyc",
}

// ZipDirectory writes a deflate-compressed zip of sourceDir to
// outputPath. Entry names are slash-separated paths relative to
// sourceDir. Entries matching any exclude pattern (against the base
// name of a file or directory) are skipped; nil excludes means
// DefaultExcludes. Symlinks and other irregular files are skipped.
func ZipDirectory(sourceDir, outputPath string, excludes []string) (err error) {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return fmt.Errorf("source directory %s: %w", sourceDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", sourceDir)
	}
	if excludes == nil {
		excludes = DefaultExcludes
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outputPath, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(out)
	walkErr := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		rel, relErr := filepath.Rel(sourceDir, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if matchesAny(d.Name(), excludes) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return addFile(zw, path, filepath.ToSlash(rel))
	})
	closeErr := zw.Close()
	if walkErr != nil {
		return fmt.Errorf("zipping %s: %w", sourceDir, walkErr)
	}
	return closeErr
}

// ZipToTemp zips sourceDir into a temporary file and returns its path.
// The caller removes the file when done.
func ZipToTemp(sourceDir string, excludes []string) (string, error) {
	tmp, err := os.CreateTemp("", "gcpkit-src-*.zip")
	if err != nil {
		return "", fmt.Errorf("creating temp zip: %w", err)
	}
	path := tmp.Name()
	if err := tmp.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	if err := ZipDirectory(sourceDir, path, excludes); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func addFile(zw *zip.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: info.ModTime(),
	})
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func matchesAny(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.ContainsAny(pattern, "*?[") {
			if ok, err := filepath.Match(pattern, name); err == nil && ok {
				return true
			}
			continue
		}
		if name == pattern {
			return true
		}
	}
	return false
}
