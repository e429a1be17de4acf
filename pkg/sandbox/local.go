package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type mount struct {
	host, guest string
	mode        Mode
}

// Local is the reference Sandbox used by the Local backend and by tests:
// it does not isolate the binary in any real mount namespace, instead
// recording guest->host path mappings and rewriting argv before exec so
// the same "/task_dir/..." argument contract holds as it would under a
// real sandbox. The concrete WASM engines live outside this module.
type Local struct {
	mounts  []mount
	workDir string
	Out     *os.File
	ErrOut  *os.File
	Binary  string // path to the user binary to invoke
	log     *logrus.Entry
}

// NewLocal returns a Local sandbox that will invoke binary.
func NewLocal(binary string) *Local {
	return &Local{
		Binary: binary,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
		log:    logrus.WithField("component", "sandbox.local"),
	}
}

func (l *Local) Mount(hostPath, guestPath string, mode Mode) error {
	abs, err := filepath.Abs(hostPath)
	if err != nil {
		return MountError{HostPath: hostPath, GuestPath: guestPath, Err: err}
	}
	l.mounts = append(l.mounts, mount{host: abs, guest: guestPath, mode: mode})
	l.log.WithFields(logrus.Fields{"host": abs, "guest": guestPath, "mode": mode.String()}).Debug("mounted")
	return nil
}

func (l *Local) WorkDir(guestPath string) error {
	l.workDir = guestPath
	return nil
}

func (l *Local) SupportsWorkDir() bool      { return true }
func (l *Local) SupportsOverlayMount() bool { return true }

// Run translates every guest path occurring in args to its mapped host
// path and executes the binary directly via os/exec.
func (l *Local) Run(ctx context.Context, args []string) error {
	translated := make([]string, len(args))
	for i, a := range args {
		translated[i] = l.translate(a)
	}

	cmd := exec.CommandContext(ctx, l.Binary, translated...)
	cmd.Stdout = l.Out
	cmd.Stderr = l.ErrOut
	if l.workDir != "" {
		cmd.Dir = l.translate(l.workDir)
	}
	if err := cmd.Run(); err != nil {
		return RuntimeError{Err: errors.Wrapf(err, "running %s %v", l.Binary, translated)}
	}
	return nil
}

// translate rewrites the longest matching guest mount prefix in p to its
// corresponding host path.
func (l *Local) translate(p string) string {
	best := -1
	var bestMount mount
	for _, m := range l.mounts {
		if p == m.guest || strings.HasPrefix(p, m.guest+"/") {
			if len(m.guest) > best {
				best = len(m.guest)
				bestMount = m
			}
		}
	}
	if best < 0 {
		return p
	}
	rest := strings.TrimPrefix(p, bestMount.guest)
	return filepath.Join(bestMount.host, filepath.FromSlash(rest))
}
