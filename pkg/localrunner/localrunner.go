// Package localrunner drives the entire split/exec/merge pipeline on
// this machine, with no marketplace, negotiator, or payment manager
// involved: it is what `--backend Local` runs.
package localrunner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/golemfactory/gwasm-runner/pkg/localphase"
	"github.com/golemfactory/gwasm-runner/pkg/sandbox"
	"github.com/golemfactory/gwasm-runner/pkg/task"
	"github.com/golemfactory/gwasm-runner/pkg/workdir"
)

var log = logrus.WithField("component", "localrunner")

// Run executes binaryPath's full split/exec/merge pipeline locally: the
// split-phase and merge-phase are driven through localphase as usual,
// but every subtask in between is executed on this machine via its own
// sandbox invocation instead of being negotiated and dispatched to a
// remote provider.
func Run(ctx context.Context, binaryPath string, userArgs []string) error {
	wd, err := workdir.New("local")
	if err != nil {
		return errors.Wrap(err, "creating workdir")
	}
	binDir := filepath.Dir(binaryPath)

	sb := sandbox.NewLocal(binaryPath)
	if err := localphase.Split(ctx, sb, wd, binDir, userArgs); err != nil {
		return errors.Wrap(err, "split phase")
	}

	splitDir, err := wd.SplitOutput()
	if err != nil {
		return err
	}
	defs, err := loadTasksJSON(filepath.Join(splitDir, "tasks.json"))
	if err != nil {
		return errors.Wrap(err, "loading split-phase tasks.json")
	}

	mergeDir, err := wd.MergePath()
	if err != nil {
		return err
	}

	ins := make([]task.Def, len(defs))
	outs := make([]task.Def, len(defs))
	for i, def := range defs {
		in, out, err := runOne(ctx, binaryPath, wd, splitDir, def)
		if err != nil {
			return errors.Wrapf(err, "subtask %d", i)
		}
		ins[i] = in
		outs[i] = out
	}

	if err := writeJSON(filepath.Join(mergeDir, "tasks_input.json"), ins); err != nil {
		return errors.Wrap(err, "writing merge input list")
	}
	if err := writeJSON(filepath.Join(mergeDir, "tasks_output.json"), outs); err != nil {
		return errors.Wrap(err, "writing merge output list")
	}

	if err := localphase.Merge(ctx, sb, wd, binDir, userArgs); err != nil {
		return errors.Wrap(err, "merge phase")
	}
	return nil
}

// runOne stages one subtask's blobs into a fresh tsk-<uuid>/{in,out}
// pair, runs `<bin> exec /in/task.json /out/task.json` against it, and
// returns the rebased (to mergeDir) input and output descriptors.
func runOne(ctx context.Context, binaryPath string, wd *workdir.Dir, splitDir string, def task.Def) (in, out task.Def, err error) {
	taskPath, err := wd.NewTask()
	if err != nil {
		return nil, nil, err
	}
	inDir := filepath.Join(taskPath, "in")
	outDir := filepath.Join(taskPath, "out")
	if err = os.MkdirAll(inDir, 0o755); err != nil {
		return nil, nil, err
	}
	if err = os.MkdirAll(outDir, 0o755); err != nil {
		return nil, nil, err
	}

	for _, blob := range def.Blobs() {
		if err = os.Rename(filepath.Join(splitDir, blob), filepath.Join(inDir, blob)); err != nil {
			return nil, nil, errors.Wrapf(err, "staging blob %s", blob)
		}
	}

	in = def.RebaseOutput("", "../out/")
	if err = writeJSON(filepath.Join(inDir, "task.json"), in); err != nil {
		return nil, nil, err
	}

	sb := sandbox.NewLocal(binaryPath)
	if err = sb.Mount(inDir, "/in", sandbox.Ro); err != nil {
		return nil, nil, err
	}
	if err = sb.Mount(outDir, "/out", sandbox.Rw); err != nil {
		return nil, nil, err
	}
	if err = sb.WorkDir("/in"); err != nil {
		return nil, nil, err
	}

	log.WithFields(logrus.Fields{"in": inDir, "out": outDir}).Info("running subtask")
	if err = sb.Run(ctx, []string{"exec", "/in/task.json", "/out/task.json"}); err != nil {
		return nil, nil, err
	}

	outDef, err := loadTaskDef(filepath.Join(outDir, "task.json"))
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading subtask result")
	}

	mergeDir, err := wd.MergePath()
	if err != nil {
		return nil, nil, err
	}
	return in.RebaseTo(inDir, mergeDir), outDef.RebaseTo(outDir, mergeDir), nil
}

func loadTasksJSON(path string) ([]task.Def, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var defs []task.Def
	if err := json.Unmarshal(b, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

func loadTaskDef(path string) (task.Def, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d task.Def
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	return d, nil
}

func writeJSON(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
