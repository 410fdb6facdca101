package github

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
)

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f := gt.R1(w.Create(name)).NoError(t)
		gt.R1(f.Write([]byte(content))).NoError(t)
	}
	gt.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtractZip_StripsTopDir(t *testing.T) {
	data := buildZip(t, map[string]string{
		"pyscf-pyscf-abc123/run_ci.sh":         "#!/bin/sh\n",
		"pyscf-pyscf-abc123/pyscf/__init__.py": "",
	})

	dir := t.TempDir()
	gt.NoError(t, extractZip(data, dir))

	content := gt.R1(os.ReadFile(filepath.Join(dir, "run_ci.sh"))).NoError(t)
	gt.Value(t, string(content)).Equal("#!/bin/sh\n")

	_, err := os.Stat(filepath.Join(dir, "pyscf", "__init__.py"))
	gt.NoError(t, err)
}

func TestExtractZip_RejectsPathTraversal(t *testing.T) {
	data := buildZip(t, map[string]string{
		"top/../../evil.sh": "rm -rf /\n",
	})

	dir := t.TempDir()
	gt.Error(t, extractZip(data, dir))
}

func TestExtractZip_IgnoresBareTopEntry(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	gt.R1(w.Create("pyscf-pyscf-abc123/")).NoError(t)
	gt.NoError(t, w.Close())

	dir := t.TempDir()
	gt.NoError(t, extractZip(buf.Bytes(), dir))

	entries := gt.R1(os.ReadDir(dir)).NoError(t)
	gt.Value(t, len(entries)).Equal(0)
}

func TestExtractZip_InvalidArchive(t *testing.T) {
	gt.Error(t, extractZip([]byte("not a zip"), t.TempDir()))
}

func TestClient_FetchRejectsBadRepo(t *testing.T) {
	c := NewClient("")

	gt.Error(t, c.Fetch(t.Context(), "no-slash", "abc123", t.TempDir()))
	gt.Error(t, c.Fetch(t.Context(), "/name", "abc123", t.TempDir()))
	gt.Error(t, c.Fetch(t.Context(), "owner/", "abc123", t.TempDir()))
}
