// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package hashutil computes the content hashes used for duplicate detection.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// SHA256File streams a file through SHA-256 and returns the lowercase hex
// digest. Files are never loaded whole; archives of several GiB hash in
// constant memory.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()
	return SHA256Reader(f)
}

// SHA256Reader streams r through SHA-256.
func SHA256Reader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
