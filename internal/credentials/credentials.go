// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package credentials stores per-source secrets (OAuth tokens, session
// cookies) as encrypted blobs under the config path. Blobs are opaque to
// the rest of the system; adapters serialise whatever they need.
package credentials

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/printarr/printarr/internal/cerrors"
)

const keyFile = "credentials.key"

// Store encrypts and decrypts namespaced credential blobs with a secretbox
// key kept next to them. The key file is created on first use.
type Store struct {
	dir string
	key [32]byte
}

// Open prepares the store under dir, generating the key on first run.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create credentials dir: %w", err)
	}
	s := &Store{dir: dir}
	keyPath := filepath.Join(dir, keyFile)
	raw, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		if len(raw) != 32 {
			return nil, fmt.Errorf("credential key at %s is corrupt", keyPath)
		}
		copy(s.key[:], raw)
	case os.IsNotExist(err):
		if _, err := rand.Read(s.key[:]); err != nil {
			return nil, fmt.Errorf("generate credential key: %w", err)
		}
		if err := os.WriteFile(keyPath, s.key[:], 0o600); err != nil {
			return nil, fmt.Errorf("write credential key: %w", err)
		}
	default:
		return nil, fmt.Errorf("read credential key: %w", err)
	}
	return s, nil
}

func (s *Store) path(namespace string) string {
	return filepath.Join(s.dir, namespace+".cred")
}

// Put encrypts and stores a blob under namespace, replacing any previous
// one.
func (s *Store) Put(namespace string, blob []byte) error {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], blob, &nonce, &s.key)
	if err := os.WriteFile(s.path(namespace), sealed, 0o600); err != nil {
		return fmt.Errorf("write credential blob %q: %w", namespace, err)
	}
	return nil
}

// Get decrypts the blob stored under namespace. A missing blob is an
// auth-required error so callers surface it as 401 rather than 500.
func (s *Store) Get(namespace string) ([]byte, error) {
	sealed, err := os.ReadFile(s.path(namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cerrors.Ef(cerrors.KindAuthRequired, "no stored credentials for %q", namespace)
		}
		return nil, fmt.Errorf("read credential blob %q: %w", namespace, err)
	}
	if len(sealed) < 24 {
		return nil, cerrors.Ef(cerrors.KindAuthFailed, "credential blob %q is corrupt", namespace)
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	blob, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.key)
	if !ok {
		return nil, cerrors.Ef(cerrors.KindAuthFailed, "credential blob %q does not decrypt", namespace)
	}
	return blob, nil
}

// Delete removes the blob stored under namespace, if any.
func (s *Store) Delete(namespace string) error {
	err := os.Remove(s.path(namespace))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete credential blob %q: %w", namespace, err)
	}
	return nil
}
