package lint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestExpand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.yaml"), "model: visformer_tiny\n")
	writeFile(t, filepath.Join(dir, "a.YML"), "model: visformer_tiny\n")
	writeFile(t, filepath.Join(dir, "nested", "c.yaml"), "model: visformer_tiny\n")
	writeFile(t, filepath.Join(dir, "README.md"), "docs\n")

	single := filepath.Join(t.TempDir(), "single.txt")
	missing := filepath.Join(dir, "missing.yaml")

	files, err := Expand([]string{single, dir, missing})
	require.NoError(t, err)
	require.Equal(t, []string{
		single,
		filepath.Join(dir, "a.YML"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "nested", "c.yaml"),
		missing,
	}, files)
}

func TestRunReportsPerFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "1-good.yaml"), "model: visformer_tiny\n")
	writeFile(t, filepath.Join(dir, "2-invalid.yaml"), "model: visformer_tiny\nlr: 0\n")
	writeFile(t, filepath.Join(dir, "3-broken.yaml"), "model: [\n")
	writeFile(t, filepath.Join(dir, "4-extra.yaml"), "model: visformer_tiny\nfoo: 1\n")

	results, err := Run(context.Background(), []string{dir}, Options{Workers: 2})
	require.NoError(t, err)
	require.Len(t, results, 4)

	require.True(t, results[0].Valid())
	require.Equal(t, filepath.Join(dir, "1-good.yaml"), results[0].Path)

	require.False(t, results[1].Valid())
	require.NoError(t, results[1].Err)
	require.Equal(t, "lr", results[1].Report.Errors()[0].Key)

	require.False(t, results[2].Valid())
	require.Error(t, results[2].Err)

	require.True(t, results[3].Valid())
	var warned []string
	for _, issue := range results[3].Report.Warnings() {
		warned = append(warned, issue.Key)
	}
	require.Contains(t, warned, "foo")

	strict, err := Run(context.Background(), []string{filepath.Join(dir, "4-extra.yaml")}, Options{Strict: true, Workers: 1})
	require.NoError(t, err)
	require.False(t, strict[0].Valid())
}

func TestRunCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "model: visformer_tiny\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, []string{dir}, Options{})
	require.True(t, errors.Is(err, context.Canceled), "expected context.Canceled, got %v", err)
}

func TestIsConfigFile(t *testing.T) {
	require.True(t, IsConfigFile("a.yaml"))
	require.True(t, IsConfigFile("dir/b.YML"))
	require.False(t, IsConfigFile("c.json"))
	require.False(t, IsConfigFile("yaml"))
}
