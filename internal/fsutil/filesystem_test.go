package fsutil

import (
	"io"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFileSystem(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	osfs := OSFileSystem{}
	sub := filepath.Join(dir, "data")
	require.NoError(t, osfs.MkdirAll(sub, 0o755))
	require.NoError(t, osfs.WriteFile(filepath.Join(sub, "b.csv"), []byte("1,2\n"), 0o644))

	w, err := osfs.Create(filepath.Join(sub, "a.csv"))
	require.NoError(t, err)
	_, err = io.WriteString(w, "3,4\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, osfs.MkdirAll(filepath.Join(sub, "nested"), 0o755))

	names, err := osfs.ReadDir(sub)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.csv", "b.csv"}, names)

	data, err := osfs.ReadFile(filepath.Join(sub, "a.csv"))
	require.NoError(t, err)
	assert.Equal(t, "3,4\n", string(data))
	assert.True(t, osfs.Exists(sub))
	assert.False(t, osfs.Exists(filepath.Join(sub, "missing")))

	f, err := osfs.Open(filepath.Join(sub, "b.csv"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestMemoryFileSystem(t *testing.T) {
	t.Parallel()

	m := NewMemoryFileSystem()
	require.NoError(t, m.WriteFile("/rec/C_0_R_0_emg.csv", []byte("1,2\n"), 0o644))
	require.NoError(t, m.WriteFile("/rec/C_1_R_0_emg.csv", []byte("3,4\n"), 0o644))
	require.NoError(t, m.WriteFile("/rec/deeper/x.csv", nil, 0o644))

	names, err := m.ReadDir("/rec")
	require.NoError(t, err)
	assert.Equal(t, []string{"C_0_R_0_emg.csv", "C_1_R_0_emg.csv"}, names)
	assert.True(t, m.Exists("/rec"))
	assert.True(t, m.Exists("/rec/deeper"))

	_, err = m.ReadDir("/nowhere")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, m.MkdirAll("/empty/dir", 0o755))
	names, err = m.ReadDir("/empty/dir")
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = m.ReadFile("/missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	_, err = m.Open("/missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMemoryFileSystemCreate(t *testing.T) {
	t.Parallel()

	m := NewMemoryFileSystem()
	w, err := m.Create("/out/report.html")
	require.NoError(t, err)
	assert.True(t, m.Exists("/out/report.html"))

	_, err = io.WriteString(w, "<html>")
	require.NoError(t, err)
	_, err = io.WriteString(w, "</html>")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := m.ReadFile("/out/report.html")
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(data))
	assert.Equal(t, []string{"/out/report.html"}, m.Files())

	f, err := m.Open("/out/report.html")
	require.NoError(t, err)
	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, "report.html", info.Name())
	assert.Equal(t, int64(13), info.Size())
	all, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(all))
}

func TestMemoryFileSystemCopiesData(t *testing.T) {
	t.Parallel()

	m := NewMemoryFileSystem()
	src := []byte("abc")
	require.NoError(t, m.WriteFile("f", src, 0o644))
	src[0] = 'x'

	got, err := m.ReadFile("f")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	got[1] = 'y'

	again, err := m.ReadFile("f")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}
