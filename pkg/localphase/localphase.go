// Package localphase drives the split and merge phases of a user binary
// against a run's workdir through a sandbox, following the mount and
// argv-shape discipline the dispatcher protocol (pkg/dispatcher) expects
// on the other side.
package localphase

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/golemfactory/gwasm-runner/pkg/sandbox"
	"github.com/golemfactory/gwasm-runner/pkg/workdir"
)

const taskDirGuestPath = "/task_dir"

var log = logrus.WithField("component", "localphase")

// mountHost exposes the host filesystem to the guest: an overlay mount
// of the whole host root when the sandbox supports it, otherwise a
// drive-prefix mount under /hostfs with the working directory remapped
// underneath it (Windows-only path).
func mountHost(sb sandbox.Sandbox, binDir string) (guestBinDir string, err error) {
	if sb.SupportsOverlayMount() {
		if err = sb.Mount("/", "/", sandbox.Rw); err != nil {
			return "", err
		}
		return binDir, nil
	}

	drive := filepath.VolumeName(binDir)
	if err = sb.Mount(drive+`\`, "/hostfs", sandbox.Rw); err != nil {
		return "", err
	}
	rest := strings.TrimPrefix(filepath.ToSlash(binDir), filepath.ToSlash(drive))
	rest = strings.TrimPrefix(rest, "/")
	return "/hostfs/" + rest, nil
}

// Split runs the split phase: the user binary writes work_dir/tasks.json
// plus the blobs it references. The host filesystem holding the user
// binary's directory is mounted (see mountHost) so the sandbox can see it,
// the run's workdir base is mounted at /task_dir read-write, and the
// binary is invoked as
// `split /task_dir/split/ <user args...>`.
func Split(ctx context.Context, sb sandbox.Sandbox, d *workdir.Dir, binDir string, userArgs []string) error {
	splitDir, err := d.SplitOutput()
	if err != nil {
		return errors.Wrap(err, "preparing split output directory")
	}

	if _, err = mountHost(sb, binDir); err != nil {
		return errors.Wrap(err, "mounting host filesystem")
	}
	if err = sb.Mount(d.Base, taskDirGuestPath, sandbox.Rw); err != nil {
		return errors.Wrap(err, "mounting workdir")
	}

	args := append([]string{"split", taskDirGuestPath + "/" + workdir.SplitDirName + "/"}, userArgs...)
	log.WithField("args", args).Info("running split phase")
	if err := sb.Run(ctx, args); err != nil {
		return errors.Wrap(err, "split phase failed")
	}

	if _, err := os.Stat(filepath.Join(splitDir, "tasks.json")); err != nil {
		return errors.Wrap(err, "split phase did not produce tasks.json")
	}
	return nil
}

// Merge runs the merge phase: by the time this is called the coordinator
// has already written merge/tasks_input.json and merge/tasks_output.json.
// The workdir is mounted at /task_dir and the binary is invoked as
// `merge /task_dir/merge/tasks_input.json /task_dir/merge/tasks_output.json -- <user args...>`.
func Merge(ctx context.Context, sb sandbox.Sandbox, d *workdir.Dir, binDir string, userArgs []string) error {
	if _, err := mountHost(sb, binDir); err != nil {
		return errors.Wrap(err, "mounting host filesystem")
	}
	if err := sb.Mount(d.Base, taskDirGuestPath, sandbox.Rw); err != nil {
		return errors.Wrap(err, "mounting workdir")
	}

	args := []string{
		"merge",
		taskDirGuestPath + "/" + workdir.MergeDirName + "/tasks_input.json",
		taskDirGuestPath + "/" + workdir.MergeDirName + "/tasks_output.json",
		"--",
	}
	args = append(args, userArgs...)
	log.WithField("args", args).Info("running merge phase")
	if err := sb.Run(ctx, args); err != nil {
		return errors.Wrap(err, "merge phase failed")
	}
	return nil
}
