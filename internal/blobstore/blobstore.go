// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

// Package blobstore abstracts durable archive storage. Export jobs write
// finished archives here and hand out time-limited signed download tokens;
// the download endpoint verifies a token and streams the blob back.
//
// The filesystem implementation keeps archives under a root directory and
// signs download handles with HMAC JWTs, so no cloud SDK is needed for
// self-hosted deployments.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotFound is returned when a blob does not exist.
var ErrNotFound = errors.New("blobstore: not found")

// ErrInvalidToken is returned when a download token fails verification or
// has expired.
var ErrInvalidToken = errors.New("blobstore: invalid or expired token")

// Store is the durable blob storage surface the export engine needs.
type Store interface {
	// Put writes a blob at the given store path, replacing any existing one.
	Put(ctx context.Context, path string, r io.Reader) error

	// Open returns a reader over a stored blob.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// SignedURL returns a time-limited download URL for a stored blob.
	SignedURL(path string, expiry time.Duration) (string, error)

	// VerifyToken checks a download token and returns the blob path it grants.
	VerifyToken(token string) (string, error)

	// Delete removes a stored blob. Missing blobs are not an error.
	Delete(ctx context.Context, path string) error
}

// FSStore stores blobs on the local filesystem under a root directory and
// signs download URLs as HMAC-SHA256 JWTs carrying the blob path.
type FSStore struct {
	root    string
	secret  []byte
	baseURL string
}

// NewFSStore returns a filesystem store rooted at root. baseURL is the
// externally reachable download endpoint prefix (e.g.
// "https://dash.example.org/api/export/download"); the signed token is
// appended as a query parameter.
func NewFSStore(root, baseURL string, secret []byte) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: root, secret: secret, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// resolve maps a store path to a filesystem path, rejecting traversal.
func (s *FSStore) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("blobstore: invalid path %q", path)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FSStore) Put(_ context.Context, path string, r io.Reader) error {
	dst, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}

	// Write to a temp file then rename, so readers never see a torn blob.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("publish blob: %w", err)
	}
	return nil
}

func (s *FSStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	src, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// downloadClaims is the token payload for signed download URLs.
type downloadClaims struct {
	Path string `json:"path"`
	jwt.RegisteredClaims
}

func (s *FSStore) SignedURL(path string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := downloadClaims{
		Path: path,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "export-download",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign download token: %w", err)
	}
	return fmt.Sprintf("%s?token=%s", s.baseURL, token), nil
}

func (s *FSStore) VerifyToken(token string) (string, error) {
	claims := &downloadClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid || claims.Path == "" {
		return "", ErrInvalidToken
	}
	return claims.Path, nil
}

func (s *FSStore) Delete(_ context.Context, path string) error {
	dst, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
