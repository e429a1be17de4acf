package sandbox_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/golemfactory/gwasm-runner/pkg/sandbox"
)

func TestLocalTranslatesArgv(t *testing.T) {
	dir := t.TempDir()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	marker := filepath.Join(dir, "marker")

	sb := sandbox.NewLocal(sh)
	out, err := os.CreateTemp(dir, "out")
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	sb.Out = out
	sb.ErrOut = out

	if err := sb.Mount(dir, "/task_dir", sandbox.Rw); err != nil {
		t.Fatal(err)
	}

	if err := sb.Run(context.Background(), []string{"-c", "touch $0", "/task_dir/marker"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected marker created at translated host path: %v", err)
	}
}

func TestLocalSupports(t *testing.T) {
	sb := sandbox.NewLocal("/bin/true")
	if !sb.SupportsOverlayMount() || !sb.SupportsWorkDir() {
		t.Fatal("local sandbox should support overlay mount and workdir")
	}
}
