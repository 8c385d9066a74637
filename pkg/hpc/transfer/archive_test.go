package transfer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackAndUnpackTarGzRoundTrip(t *testing.T) {
	root := t.TempDir()

	srcDir := filepath.Join(root, "ws-1")
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "OCR-D-IMG"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "mets.xml"), []byte("<mets/>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "OCR-D-IMG", "page1.tif"), []byte("binary-ish"), 0o644))

	archivePath := filepath.Join(root, "ws-1.tar.gz")
	require.NoError(t, packTarGz(srcDir, archivePath))

	info, err := os.Stat(archivePath)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))

	destDir := filepath.Join(root, "extracted")
	require.NoError(t, unpackTarGz(archivePath, destDir))

	mets, err := os.ReadFile(filepath.Join(destDir, "ws-1", "mets.xml"))
	require.NoError(t, err)
	require.Equal(t, "<mets/>", string(mets))

	page, err := os.ReadFile(filepath.Join(destDir, "ws-1", "OCR-D-IMG", "page1.tif"))
	require.NoError(t, err)
	require.Equal(t, "binary-ish", string(page))
}

func TestCopyDirPreservesTreeAndContent(t *testing.T) {
	root := t.TempDir()
	srcDir := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "nested", "a.txt"), []byte("hello"), 0o644))

	destDir := filepath.Join(root, "dest")
	require.NoError(t, copyDir(srcDir, destDir))

	got, err := os.ReadFile(filepath.Join(destDir, "nested", "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestMergeDirOverwritesCollisionsKeepsExisting(t *testing.T) {
	root := t.TempDir()
	srcDir := filepath.Join(root, "src")
	destDir := filepath.Join(root, "dest")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.MkdirAll(destDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "new.txt"), []byte("from-src"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(destDir, "keep.txt"), []byte("already-there"), 0o644))

	require.NoError(t, mergeDir(srcDir, destDir))

	keep, err := os.ReadFile(filepath.Join(destDir, "keep.txt"))
	require.NoError(t, err)
	require.Equal(t, "already-there", string(keep))

	fresh, err := os.ReadFile(filepath.Join(destDir, "new.txt"))
	require.NoError(t, err)
	require.Equal(t, "from-src", string(fresh))
}
