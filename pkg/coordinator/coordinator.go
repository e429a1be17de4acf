// Package coordinator orchestrates one complete run: it drives the
// local split-phase, fans a subtask per splitter-emitted descriptor
// out to the negotiator/executor/payment-manager trio, reassembles the
// results in splitter order, and drives the local merge-phase. One
// top-level struct holds the run's collaborators, constructed once per
// run.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	progress "github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/golemfactory/gwasm-runner/pkg/activity"
	"github.com/golemfactory/gwasm-runner/pkg/executor"
	"github.com/golemfactory/gwasm-runner/pkg/image"
	"github.com/golemfactory/gwasm-runner/pkg/localphase"
	"github.com/golemfactory/gwasm-runner/pkg/market"
	"github.com/golemfactory/gwasm-runner/pkg/negotiator"
	"github.com/golemfactory/gwasm-runner/pkg/payment"
	"github.com/golemfactory/gwasm-runner/pkg/paymentmgr"
	"github.com/golemfactory/gwasm-runner/pkg/sandbox"
	"github.com/golemfactory/gwasm-runner/pkg/store"
	"github.com/golemfactory/gwasm-runner/pkg/task"
	"github.com/golemfactory/gwasm-runner/pkg/workdir"
)

const pendingPollDelay = 700 * time.Millisecond

// Clients bundles the external collaborator contracts a remote backend
// supplies; the Local backend never constructs a Coordinator (it runs
// everything, exec included, through the local sandbox instead).
type Clients struct {
	Market   market.Client
	Activity activity.Client
	Payment  payment.Client
	Store    *store.Client
}

// Coordinator runs one complete job: split, remote fan-out, merge.
type Coordinator struct {
	clients Clients
	log     *logrus.Entry
}

// New returns a Coordinator wired to its remote collaborators.
func New(clients Clients) *Coordinator {
	return &Coordinator{clients: clients, log: logrus.WithField("component", "coordinator")}
}

// Run executes the full job for binaryPath against userArgs and returns
// only once the merge-phase has completed (or a fatal error occurred).
func (c *Coordinator) Run(ctx context.Context, binaryPath string, userArgs []string) error {
	wd, err := workdir.New("job")
	if err != nil {
		return errors.Wrap(err, "creating workdir")
	}

	img, err := image.Build(binaryPath, "")
	if err != nil {
		return errors.Wrap(err, "building image")
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

	pairs, err := c.runRemotePhase(ctx, wd, splitDir, img, defs)
	if err != nil {
		return err
	}

	mergeDir, err := wd.MergePath()
	if err != nil {
		return err
	}
	if err := writeMergeInputs(mergeDir, splitDir, pairs); err != nil {
		return errors.Wrap(err, "writing merge input lists")
	}

	if err := localphase.Merge(ctx, sb, wd, binDir, userArgs); err != nil {
		return errors.Wrap(err, "merge phase")
	}
	return nil
}

// subtaskPair is one subtask's paired input/output descriptor, tagged
// with the index the splitter emitted it at so results can be
// reordered before the merge-phase is invoked.
type subtaskPair struct {
	index  int
	in     task.Def
	out    task.Def
	outDir string
}

func (c *Coordinator) runRemotePhase(ctx context.Context, wd *workdir.Dir, splitDir string, img []byte, defs []task.Def) ([]subtaskPair, error) {
	urn, err := c.clients.Store.PushImage(ctx, img)
	if err != nil {
		return nil, errors.Wrap(err, "pushing image")
	}

	demand := market.Demand{
		NodeName:    "gwasm-runner",
		TaskPackage: urn,
		Expiration:  time.Now().Add(24 * time.Hour),
		Constraints: "(&(golem.inf.mem.gib>=0.5)(golem.inf.storage.gib>=1)(golem.com.pricing.model=linear))",
	}

	neg := negotiator.New(c.clients.Market, demand)
	negCtx, cancelNeg := context.WithCancel(ctx)
	defer cancelNeg()
	if err := neg.Start(negCtx); err != nil {
		return nil, errors.Wrap(err, "starting negotiator")
	}

	allocationID, err := c.clients.Payment.CreateAllocation(ctx, float64(len(defs)))
	if err != nil {
		return nil, errors.Wrap(err, "allocating funds")
	}
	payMgr := paymentmgr.New(c.clients.Payment, allocationID)
	payMgr.Start(ctx)

	ex := executor.New(neg, payMgr, c.clients.Activity, c.clients.Store)

	bar := progress.Default(int64(len(defs)), "subtasks")
	pairs := make([]subtaskPair, len(defs))
	var wg sync.WaitGroup
	errs := make([]error, len(defs))
	for i, def := range defs {
		i, def := i, def
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { _ = bar.Add(1) }()
			outDir, err := wd.SubtaskResultDir(fmt.Sprintf("tsk-%04d", i))
			if err != nil {
				errs[i] = err
				return
			}
			res, err := ex.Run(ctx, executor.Subtask{Index: i, Def: def, BlobDir: splitDir, OutDir: outDir})
			if err != nil {
				errs[i] = err
				return
			}
			pairs[i] = subtaskPair{index: i, in: def, out: res.Def, outDir: outDir}
		}()
	}
	wg.Wait()
	_ = bar.Finish()

	if err := neg.Stop(ctx); err != nil {
		c.log.WithError(err).Warn("stopping negotiator failed")
	}

	for _, err := range errs {
		if err != nil {
			_ = payMgr.ReleaseAllocation(ctx)
			return nil, errors.Wrap(err, "subtask execution")
		}
	}

	for {
		pending, err := payMgr.GetPending(ctx)
		if err != nil {
			break
		}
		if pending == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pendingPollDelay):
		}
	}
	if err := payMgr.ReleaseAllocation(ctx); err != nil {
		c.log.WithError(err).Warn("releasing allocation failed")
	}

	return pairs, nil
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

// writeMergeInputs writes merge/tasks_input.json and
// merge/tasks_output.json in splitter-emitted order. Input descriptors
// are rebased from splitDir, where the splitter staged their blobs;
// output descriptors from the subtask's own result directory, where
// the executor downloaded its outputs to.
func writeMergeInputs(mergeDir, splitDir string, pairs []subtaskPair) error {
	ins := make([]task.Def, len(pairs))
	outs := make([]task.Def, len(pairs))
	for _, p := range pairs {
		ins[p.index] = p.in.RebaseTo(splitDir, mergeDir)
		outs[p.index] = p.out.RebaseTo(p.outDir, mergeDir)
	}

	if err := writeJSON(filepath.Join(mergeDir, "tasks_input.json"), ins); err != nil {
		return err
	}
	return writeJSON(filepath.Join(mergeDir, "tasks_output.json"), outs)
}

func writeJSON(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
