package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// HashLen is the number of hex characters kept from a sha256 digest.
const HashLen = 16

func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:HashLen]
}

func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil))[:HashLen], nil
}

// HashTree hashes a set of files under base as one unit. Members are visited
// in sorted relative-path order and each contributes "relpath\x00bytes\x00",
// so the digest does not depend on the order callers list them in.
func HashTree(base string, relPaths []string) (string, error) {
	sorted := make([]string, len(relPaths))
	copy(sorted, relPaths)
	for i := range sorted {
		sorted[i] = filepath.ToSlash(sorted[i])
	}
	sort.Strings(sorted)

	h := sha256.New()
	for _, rel := range sorted {
		f, err := os.Open(filepath.Join(base, filepath.FromSlash(rel)))
		if err != nil {
			return "", err
		}
		_, _ = io.WriteString(h, rel)
		_, _ = h.Write([]byte{0})
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", err
		}
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:HashLen], nil
}
