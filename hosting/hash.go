package hosting

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	sha256 "github.com/minio/sha256-simd"
)

// hashChunkSize bounds memory while hashing large files.
const hashChunkSize = 64 * 1024

// HashFile returns the lowercase hex SHA-256 digest of the file's raw
// bytes, streamed in fixed-size chunks.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFiles hashes every (deploy path, local path) pair. It returns the
// manifest (deploy path -> digest) sent to the populate endpoint and the
// reverse index (digest -> local path) used to resolve required uploads.
// Byte-identical files share a digest, so only one body is uploaded for
// them.
func HashFiles(files map[string]string) (manifest map[string]string, reverse map[string]string, err error) {
	manifest = make(map[string]string, len(files))
	reverse = make(map[string]string, len(files))

	for deployPath, localPath := range files {
		digest, hashErr := HashFile(localPath)
		if hashErr != nil {
			return nil, nil, hashErr
		}
		manifest[deployPath] = digest
		reverse[digest] = localPath
	}
	return manifest, reverse, nil
}

// CollectFiles walks root and builds the deploy mapping for Deploy:
// every regular file becomes an entry "/relative/slash/path" -> absolute
// local path. Directories and irregular files (symlinks, sockets) are
// skipped.
func CollectFiles(root string) (map[string]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	files := make(map[string]string)
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		abs, absErr := filepath.Abs(path)
		if absErr != nil {
			return absErr
		}
		files["/"+filepath.ToSlash(rel)] = abs
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walking %s: %w", root, walkErr)
	}
	return files, nil
}
