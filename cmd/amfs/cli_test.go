package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMkfsFsckDumpfsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "test.img")

	f, err := os.Create(image)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(1000*4096))
	require.NoError(t, f.Close())

	commandInit()

	rootCmd.SetArgs([]string{"mkfs", image})
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"fsck", image})
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"dumpfs", image, "--format", "yaml"})
	require.NoError(t, rootCmd.Execute())
}
