// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsPossibleValue(t *testing.T) {
	list := []string{"oss", "s3"}
	require.True(t, isPossibleValue(list, "s3"))
	require.False(t, isPossibleValue(list, "registry"))
}

func TestParseBackendConfig(t *testing.T) {
	configJSON := `
	{
		"bucket_name": "test",
		"endpoint": "region.oss.com",
		"access_key_id": "testAK",
		"access_key_secret": "testSK",
		"object_prefix": "grids/"
	}`
	require.True(t, json.Valid([]byte(configJSON)))

	file := filepath.Join(t.TempDir(), "backend-config.json")
	require.NoError(t, os.WriteFile(file, []byte(configJSON), 0644))

	resultJSON, err := parseBackendConfig("", file)
	require.NoError(t, err)
	require.True(t, json.Valid([]byte(resultJSON)))
	require.Equal(t, configJSON, resultJSON)

	// Conflict of two flags.
	_, err = parseBackendConfig(configJSON, file)
	require.Error(t, err)
	require.Contains(t, err.Error(), "conflicts")

	// Unworkable file.
	_, err = parseBackendConfig("", "media.json")
	require.Error(t, err)
}
