package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultFileRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "search_result.txt")
	entries := []Entry{
		{Code: "7203", Name: "トヨタ自動車"},
		{Code: "6758", Name: "Sony Group, Inc."}, // 名字里允许出现逗号
		{Code: "9984", Name: ""},
	}
	require.NoError(t, WriteResultFile(path, entries))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	// 纯文本 code,name，无表头
	assert.Equal(t, "7203,トヨタ自動車\n6758,Sony Group, Inc.\n9984,", string(raw))

	got, err := ReadResultFile(path)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestWriteResultFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search_result.txt")
	require.NoError(t, WriteResultFile(path, nil))
	got, err := ReadResultFile(path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteResultFileBadPath(t *testing.T) {
	assert.Error(t, WriteResultFile("  ", nil))
}

func TestReadResultFileSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search_result.txt")
	require.NoError(t, os.WriteFile(path, []byte("7203,トヨタ自動車\n\n  \n6758,ソニー\n"), 0o644))
	got, err := ReadResultFile(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "6758", got[1].Code)
}

func TestReadResultFileMissing(t *testing.T) {
	_, err := ReadResultFile(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}
