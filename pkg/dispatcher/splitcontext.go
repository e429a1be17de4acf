package dispatcher

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golemfactory/gwasm-runner/pkg/task"
)

// workDirCtx is the default SplitContext: it allocates fresh output paths
// by trying sequentially-numbered basenames under the split work
// directory until it finds one that does not yet exist.
type workDirCtx struct {
	nextID  uint64
	workDir string
	args    []string
}

func newWorkDirCtx(workDir string, args []string) *workDirCtx {
	return &workDirCtx{nextID: 1000, workDir: workDir, args: args}
}

// nextName returns the next sequentially-numbered basename that does
// not already exist in the work directory.
func (c *workDirCtx) nextName() string {
	for {
		id := c.nextID
		c.nextID += 1000
		name := fmt.Sprintf("%06x.bin", id)
		if _, err := os.Stat(filepath.Join(c.workDir, name)); os.IsNotExist(err) {
			return name
		}
	}
}

func (c *workDirCtx) NewOutput() task.Arg {
	return task.OutputArg(c.nextName())
}

func (c *workDirCtx) NewBlob() (task.Arg, *os.File, error) {
	name := c.nextName()
	f, err := os.Create(filepath.Join(c.workDir, name))
	if err != nil {
		return task.Arg{}, nil, err
	}
	return task.BlobArg(name), f, nil
}

func (c *workDirCtx) NewDef() *task.Builder {
	return task.NewBuilder()
}

func (c *workDirCtx) Args() []string {
	return c.args
}
