// Package executor implements the per-subtask execution loop:
// negotiate an agreement, deploy the image, run the subtask's
// exec-script on a provider's activity, and collect its results,
// retrying the whole loop from scratch on any failure.
package executor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/golemfactory/gwasm-runner/pkg/activity"
	"github.com/golemfactory/gwasm-runner/pkg/store"
	"github.com/golemfactory/gwasm-runner/pkg/task"
)

const (
	batchPollTimeout = 60 * time.Second
	batchPollDelay   = 700 * time.Millisecond
)

// Negotiator is the subset of pkg/negotiator.Negotiator the executor
// depends on.
type Negotiator interface {
	RequestAgreement(ctx context.Context) (string, error)
}

// PaymentAcceptor is the subset of pkg/paymentmgr.Manager the executor
// depends on.
type PaymentAcceptor interface {
	AcceptAgreement(ctx context.Context, agreementID string)
}

// Subtask is one unit of work the coordinator hands the executor: a
// positional descriptor whose Blob paths are resolved against BlobDir,
// and the local directory its Output files should be written to once
// downloaded.
type Subtask struct {
	Index   int
	Def     task.Def
	BlobDir string
	OutDir  string
}

// Result is what a successfully-executed subtask produces.
type Result struct {
	AgreementID string
	Def         task.Def
}

// Executor runs subtasks to completion against a negotiator, a payment
// manager, an activity provider and an object store.
type Executor struct {
	negotiator Negotiator
	payment    PaymentAcceptor
	activity   activity.Client
	store      *store.Client
	log        *logrus.Entry
}

// New returns an Executor wired to its collaborators.
func New(n Negotiator, p PaymentAcceptor, act activity.Client, st *store.Client) *Executor {
	return &Executor{
		negotiator: n,
		payment:    p,
		activity:   act,
		store:      st,
		log:        logrus.WithField("component", "executor"),
	}
}

// Run executes st, retrying from a fresh agreement on any failure,
// until it succeeds or ctx is cancelled.
func (e *Executor) Run(ctx context.Context, st Subtask) (Result, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res, err := e.attempt(ctx, st)
		if err == nil {
			return res, nil
		}
		e.log.WithError(err).WithFields(logrus.Fields{
			"subtask": st.Index,
			"attempt": attempt,
		}).Warn("subtask attempt failed, retrying")
	}
}

type outputSlot struct {
	name        string
	downloadURL string
}

func (e *Executor) attempt(ctx context.Context, st Subtask) (Result, error) {
	agreementID, err := e.negotiator.RequestAgreement(ctx)
	if err != nil {
		return Result{}, errors.Wrap(err, "requesting agreement")
	}

	activityID, err := e.activity.CreateActivity(ctx, agreementID)
	if err != nil {
		return Result{}, errors.Wrap(err, "creating activity")
	}

	script, outSlots, taskDefSlot, err := e.buildScript(ctx, st)
	if err != nil {
		return Result{}, errors.Wrap(err, "building exec script")
	}

	batchID, err := e.activity.Exec(ctx, activityID, script)
	if err != nil {
		return Result{}, errors.Wrap(err, "submitting exec batch")
	}

	if err := e.pollBatch(ctx, activityID, batchID, len(script)); err != nil {
		return Result{}, err
	}

	outDefBytes, err := e.store.Download(ctx, taskDefSlot.downloadURL)
	if err != nil {
		return Result{}, errors.Wrap(err, "downloading result task descriptor")
	}
	var outDef task.Def
	if err := json.Unmarshal(outDefBytes, &outDef); err != nil {
		return Result{}, errors.Wrap(err, "decoding result task descriptor")
	}

	e.payment.AcceptAgreement(ctx, agreementID)

	if err := e.downloadOutputs(ctx, st, outSlots); err != nil {
		return Result{}, errors.Wrap(err, "downloading output blobs")
	}

	if err := e.activity.DestroyActivity(ctx, activityID); err != nil {
		e.log.WithError(err).WithField("activity_id", activityID).Warn("destroy activity failed")
	}

	return Result{AgreementID: agreementID, Def: outDef}, nil
}

// buildScript uploads the subtask's blobs and descriptor, allocates
// download slots for every declared output plus the result descriptor,
// and composes the exec-script: deploy, start, transfers in, run,
// transfers out.
func (e *Executor) buildScript(ctx context.Context, st Subtask) ([]activity.Command, []outputSlot, outputSlot, error) {
	var script []activity.Command
	script = append(script, activity.DeployCmd(), activity.StartCmd())

	for _, blobPath := range st.Def.Blobs() {
		url, err := e.store.UploadFile(ctx, filepath.Join(st.BlobDir, blobPath))
		if err != nil {
			return nil, nil, outputSlot{}, errors.Wrapf(err, "uploading blob %s", blobPath)
		}
		script = append(script, activity.TransferCmd(url, "container:/in/"+blobPath))
	}

	taskFileURL, err := e.store.UploadJSON(ctx, st.Def)
	if err != nil {
		return nil, nil, outputSlot{}, errors.Wrap(err, "uploading task descriptor")
	}
	script = append(script, activity.TransferCmd(taskFileURL, "container:/in/task.json"))

	script = append(script, activity.RunCmd("main", "exec", "/in/task.json", "/out/task.json"))

	var outSlots []outputSlot
	for _, name := range st.Def.Outputs() {
		uploadURL, downloadURL := e.store.DownloadSlot()
		outSlots = append(outSlots, outputSlot{name: name, downloadURL: downloadURL})
		script = append(script, activity.TransferCmd("container:/out/"+name, uploadURL))
	}

	taskDefUploadURL, taskDefDownloadURL := e.store.DownloadSlot()
	script = append(script, activity.TransferCmd("container:/out/task.json", taskDefUploadURL))

	return script, outSlots, outputSlot{downloadURL: taskDefDownloadURL}, nil
}

func (e *Executor) pollBatch(ctx context.Context, activityID, batchID string, commandCount int) error {
	observed := 0
	for observed < commandCount {
		state, err := e.activity.GetState(ctx, activityID)
		if err != nil {
			return errors.Wrap(err, "checking activity state")
		}
		if state != activity.Alive {
			return errors.Errorf("activity %s no longer alive while polling batch %s", activityID, batchID)
		}

		pollCtx, cancel := context.WithTimeout(ctx, batchPollTimeout)
		results, err := e.activity.GetExecBatchResults(pollCtx, activityID, batchID, batchPollTimeout, 0)
		cancel()
		if err != nil {
			return errors.Wrap(err, "fetching exec batch results")
		}
		observed = len(results)
		if observed >= commandCount {
			for _, r := range results {
				if !r.Success {
					return errors.Errorf("command %d failed: %s", r.Index, r.Message)
				}
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(batchPollDelay):
		}
	}
	return nil
}

func (e *Executor) downloadOutputs(ctx context.Context, st Subtask, slots []outputSlot) error {
	for _, slot := range slots {
		data, err := e.store.Download(ctx, slot.downloadURL)
		if err != nil {
			return errors.Wrapf(err, "downloading output %s", slot.name)
		}
		dest := filepath.Join(st.OutDir, slot.name)
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return errors.Wrapf(err, "writing output %s", slot.name)
		}
	}
	return nil
}
