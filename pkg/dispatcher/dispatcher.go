// Package dispatcher is the library consumed by user binaries to satisfy
// the split/exec/merge command-line contract: a binary calls
// dispatcher.Run with its three callbacks and the package handles argv
// parsing, descriptor (de)serialization, and path rebasing.
package dispatcher

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/golemfactory/gwasm-runner/pkg/task"
)

// SplitContext is handed to the Splitter callback. It allocates fresh
// Output paths under the split work directory and exposes the user's
// trailing command-line arguments.
type SplitContext interface {
	// NewOutput allocates a fresh, sequentially-numbered relative path
	// (e.g. "0003e8.bin") under the split work directory and returns it
	// as an Output argument.
	NewOutput() task.Arg
	// NewBlob creates a fresh, sequentially-numbered file under the
	// split work directory, returning it as a Blob argument together
	// with an open handle the splitter writes the blob's content
	// through. The caller closes the handle.
	NewBlob() (task.Arg, *os.File, error)
	// NewDef returns an empty Builder for assembling the next subtask's
	// argument vector positionally.
	NewDef() *task.Builder
	// Args returns the user-supplied arguments that followed `split
	// <work_dir>` on the command line.
	Args() []string
}

// Splitter produces the list of subtask descriptors from a run's user
// arguments.
type Splitter func(ctx SplitContext) ([]task.Def, error)

// Executor executes exactly one subtask, given its descriptor, and
// returns the descriptor rebased to the output directory it actually
// wrote to.
type Executor func(in task.Def) (task.Def, error)

// Pair is one positionally-matched (input-descriptor, output-descriptor)
// couple, as the merge phase receives them.
type Pair struct {
	In, Out task.Def
}

// Merger consumes every subtask's paired descriptors plus the user's
// trailing arguments and produces the run's final result.
type Merger func(args []string, pairs []Pair) error

// BadCommandError indicates argv did not match any known subcommand or
// was missing required arguments.
type BadCommandError struct {
	Args []string
}

func (e BadCommandError) Error() string {
	return fmt.Sprintf("bad command: %v", e.Args)
}

// MissingSeparatorError indicates a `merge` invocation lacked the `--`
// separator ahead of user arguments.
type MissingSeparatorError struct{}

func (MissingSeparatorError) Error() string { return "expected -- separator before user arguments" }

// Run dispatches os.Args[1:] to the split, exec or merge step.
func Run(splitter Splitter, executor Executor, merger Merger) error {
	return RunArgs(os.Args[1:], splitter, executor, merger)
}

// RunArgs is Run with an explicit argument vector (excluding the program
// name), for testability.
func RunArgs(args []string, splitter Splitter, executor Executor, merger Merger) error {
	if len(args) < 1 {
		return BadCommandError{Args: args}
	}
	switch args[0] {
	case "split":
		return runSplit(args[1:], splitter)
	case "exec":
		return runExec(args[1:], executor)
	case "merge":
		return runMerge(args[1:], merger)
	default:
		return BadCommandError{Args: args}
	}
}

func runSplit(args []string, splitter Splitter) error {
	if len(args) < 1 {
		return BadCommandError{Args: args}
	}
	workDir := args[0]
	userArgs := args[1:]

	ctx := newWorkDirCtx(workDir, userArgs)
	defs, err := splitter(ctx)
	if err != nil {
		return errors.Wrap(err, "splitter failed")
	}
	return writeDefs(joinPath(workDir, "tasks.json"), defs)
}

func runExec(args []string, executor Executor) error {
	if len(args) < 2 {
		return BadCommandError{Args: args}
	}
	inPath, outPath := args[0], args[1]

	in, err := readDef(inPath)
	if err != nil {
		return errors.Wrap(err, "reading input task descriptor")
	}
	in = in.RebaseOutput(dirOf(inPath), dirOf(outPath))
	out, err := executor(in)
	if err != nil {
		return errors.Wrap(err, "executor failed")
	}
	return writeDef(outPath, out)
}

func runMerge(args []string, merger Merger) error {
	if len(args) < 2 {
		return BadCommandError{Args: args}
	}
	inListPath, outListPath := args[0], args[1]
	rest := args[2:]
	if len(rest) == 0 || rest[0] != "--" {
		return MissingSeparatorError{}
	}
	userArgs := rest[1:]

	ins, err := readDefs(inListPath)
	if err != nil {
		return errors.Wrap(err, "reading merge input descriptors")
	}
	outs, err := readDefs(outListPath)
	if err != nil {
		return errors.Wrap(err, "reading merge output descriptors")
	}
	if len(ins) != len(outs) {
		return errors.Errorf("merge input/output descriptor count mismatch: %d != %d", len(ins), len(outs))
	}
	pairs := make([]Pair, len(ins))
	for i := range ins {
		pairs[i] = Pair{In: ins[i], Out: outs[i]}
	}
	return merger(userArgs, pairs)
}
