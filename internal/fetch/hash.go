package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Hash computes the sha256 of a file, streamed in bounded chunks.
func Hash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, file, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
