package tool

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
)

// GetFileInfoFromPath reads file information from local filesystem
// Returns fileName, size, fileType, sha256, error
func GetFileInfoFromPath(filePath string, calculateSHA bool) (string, int64, string, string, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return "", 0, "", "", fmt.Errorf("failed to stat file: %w", err)
	}

	if fileInfo.IsDir() {
		return "", 0, "", "", fmt.Errorf("path is a directory, not a file")
	}

	fileName := filepath.Base(filePath)
	fileSize := fileInfo.Size()

	fileType := mime.TypeByExtension(filepath.Ext(filePath))
	if fileType == "" {
		fileType = "application/octet-stream" // Default MIME type
	}

	var sha256Hash string
	if calculateSHA {
		sha256Hash, err = HashFile(filePath)
		if err != nil {
			return fileName, fileSize, fileType, "", err
		}
	}

	return fileName, fileSize, fileType, sha256Hash, nil
}

// HashFile returns the hex sha256 of the file content.
func HashFile(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to calculate SHA256: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// CopyFile copies src to dst, replacing dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}

// LinkOrCopyFile hard-links src to dst and copies when linking is not possible
// (different filesystem, unsupported filesystem).
func LinkOrCopyFile(src, dst string) error {
	_ = os.Remove(dst)
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	return CopyFile(src, dst)
}
