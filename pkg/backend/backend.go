// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// Backend transfers converted grid containers to a storage backend:
// 1. oss: an object storage backend using the Aliyun SDK.
// 2. s3: any S3-compatible object storage.
type Backend interface {
	// Upload pushes one artifact file under the given object name.
	Upload(ctx context.Context, name, path string, size int64, forcePush bool) (*Artifact, error)
	Check(name string) (bool, error)
	Type() Type
}

// Artifact describes one uploaded container.
type Artifact struct {
	Name   string
	Digest digest.Digest
	Size   int64
	URL    string
}

type Type = int

const (
	OssBackend Type = iota
	S3backend
)

// NewBackend creates a storage backend from a JSON configuration
// string.
func NewBackend(bt string, config []byte) (Backend, error) {
	switch bt {
	case "oss":
		return newOSSBackend(config)
	case "s3":
		return newS3Backend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type %s", bt)
	}
}

// fileDigest computes the canonical digest of an artifact file.
func fileDigest(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open artifact for digest")
	}
	defer f.Close()
	digester := digest.Canonical.Digester()
	if _, err := io.Copy(digester.Hash(), f); err != nil {
		return "", errors.Wrap(err, "digest artifact")
	}
	return digester.Digest(), nil
}
