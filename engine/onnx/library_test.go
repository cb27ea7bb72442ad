package onnx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlatform(t *testing.T) {
	p, err := Platform("linux", "amd64")
	require.NoError(t, err)
	assert.Equal(t, "linux-x64", p)

	p, err = Platform("windows", "386")
	require.NoError(t, err)
	assert.Equal(t, "windows-x86", p)

	_, err = Platform("plan9", "amd64")
	assert.Error(t, err)
	_, err = Platform("linux", "riscv64")
	assert.Error(t, err)
}

func TestLibraryName(t *testing.T) {
	assert.Equal(t, "onnxruntime.dll", LibraryName("windows"))
	assert.Equal(t, "libonnxruntime.dylib", LibraryName("darwin"))
	assert.Equal(t, "libonnxruntime.so", LibraryName("linux"))
}

func TestSearchLocations(t *testing.T) {
	root := t.TempDir()
	libDir := filepath.Join(root, "lib", "linux-x64")
	require.NoError(t, os.MkdirAll(libDir, 0o755))
	want := filepath.Join(libDir, "libonnxruntime.so")
	require.NoError(t, os.WriteFile(want, nil, 0o644))

	start := filepath.Join(root, "bin", "deep")
	require.NoError(t, os.MkdirAll(start, 0o755))

	got, err := searchLocations([]string{start}, "libonnxruntime.so", "linux-x64")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSearchLocations_Versioned(t *testing.T) {
	root := t.TempDir()
	want := filepath.Join(root, "lib", "libonnxruntime.so.1.19.0")
	require.NoError(t, os.MkdirAll(filepath.Dir(want), 0o755))
	require.NoError(t, os.WriteFile(want, nil, 0o644))

	got, err := searchLocations([]string{root}, "libonnxruntime.so", "")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFindSharedLibrary_Explicit(t *testing.T) {
	_, err := FindSharedLibrary(filepath.Join(t.TempDir(), "missing.so"))
	assert.Error(t, err)

	lib := filepath.Join(t.TempDir(), "custom.so")
	require.NoError(t, os.WriteFile(lib, nil, 0o644))
	got, err := FindSharedLibrary(lib)
	require.NoError(t, err)
	assert.Equal(t, lib, got)
}
