package localphase_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/golemfactory/gwasm-runner/pkg/localphase"
	"github.com/golemfactory/gwasm-runner/pkg/sandbox"
	"github.com/golemfactory/gwasm-runner/pkg/workdir"
)

// fakeBinary writes a minimal shell script that, when invoked as
// `split <dir> ...`, writes an empty tasks.json into <dir>.
func fakeBinary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "binary.sh")
	script := `#!/bin/sh
if [ "$1" = "split" ]; then
  echo '[]' > "$2/tasks.json"
fi
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSplitProducesTasksJSON(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	bin := fakeBinary(t)
	d, err := workdir.New("local")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(d.Base)

	sb := sandbox.NewLocal(bin)
	if err := localphase.Split(context.Background(), sb, d, filepath.Dir(bin), nil); err != nil {
		t.Fatalf("split failed: %v", err)
	}

	splitDir, _ := d.SplitOutput()
	if _, err := os.Stat(filepath.Join(splitDir, "tasks.json")); err != nil {
		t.Fatalf("expected tasks.json: %v", err)
	}
}
