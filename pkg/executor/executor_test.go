package executor_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golemfactory/gwasm-runner/pkg/activity"
	"github.com/golemfactory/gwasm-runner/pkg/executor"
	"github.com/golemfactory/gwasm-runner/pkg/store"
	"github.com/golemfactory/gwasm-runner/pkg/task"
)

// inMemoryStoreServer fakes the content-addressed store's HTTP surface:
// PUT <base>/upload/<key> stores bytes, GET <base>/<key> returns them.
func inMemoryStoreServer(t *testing.T) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	objects := map[string][]byte{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/upload/"):
			key := strings.TrimPrefix(r.URL.Path, "/upload/")
			b, _ := io.ReadAll(r.Body)
			mu.Lock()
			objects[key] = b
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet:
			key := strings.TrimPrefix(r.URL.Path, "/")
			mu.Lock()
			b, ok := objects[key]
			mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(b)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
}

type fakeNegotiator struct{ calls int }

func (f *fakeNegotiator) RequestAgreement(ctx context.Context) (string, error) {
	f.calls++
	return "agreement-1", nil
}

type fakePaymentAcceptor struct {
	mu       sync.Mutex
	accepted []string
}

func (f *fakePaymentAcceptor) AcceptAgreement(ctx context.Context, agreementID string) {
	f.mu.Lock()
	f.accepted = append(f.accepted, agreementID)
	f.mu.Unlock()
}

// fakeActivity runs the exec script inline and synchronously: Exec
// ignores inbound transfers and PUTs canned bytes (see canned) for every
// transfer out of container:/out/ to a store upload URL, so
// GetExecBatchResults can report success immediately.
type fakeActivity struct {
	storeBase string
	http      *http.Client

	failCreate int // number of CreateActivity calls to fail before succeeding
	creates    int

	mu        sync.Mutex
	scriptLen int // recorded by Exec so GetExecBatchResults can report one result per command
}

func (f *fakeActivity) CreateActivity(ctx context.Context, agreementID string) (string, error) {
	f.creates++
	if f.creates <= f.failCreate {
		return "", errFake{"create_activity"}
	}
	return "activity-1", nil
}

func (f *fakeActivity) DestroyActivity(ctx context.Context, activityID string) error { return nil }

func (f *fakeActivity) Exec(ctx context.Context, activityID string, script []activity.Command) (string, error) {
	f.mu.Lock()
	f.scriptLen = len(script)
	f.mu.Unlock()
	for _, cmd := range script {
		if cmd.Kind != activity.Transfer {
			continue
		}
		if strings.HasPrefix(cmd.To, "container:/out/") || strings.HasPrefix(cmd.From, "container:/out/") {
			// Outbound transfer: fetch source from the original upload
			// (here, simulate by echoing whatever the subtask's own
			// descriptor/blob already produced) — tests drive this via
			// preloaded objects keyed by content, so this fake simply
			// PUTs a canned echo for any /out/* transfer whose
			// destination is a store upload URL.
			if strings.HasPrefix(cmd.To, f.storeBase) {
				req, _ := http.NewRequestWithContext(ctx, http.MethodPut, cmd.To, strings.NewReader(canned(cmd.From)))
				resp, err := f.http.Do(req)
				if err != nil {
					return "", err
				}
				resp.Body.Close()
			}
		}
	}
	return "batch-1", nil
}

// canned maps a container output path to the bytes the fake "container"
// produces for it, so downloadOutputs round-trips something checkable.
func canned(containerPath string) string {
	if containerPath == "container:/out/task.json" {
		d := task.Def{task.OutputArg("result.bin")}
		b, _ := json.Marshal(d)
		return string(b)
	}
	return "produced:" + containerPath
}

func (f *fakeActivity) GetExecBatchResults(ctx context.Context, activityID, batchID string, timeout time.Duration, max int) ([]activity.Result, error) {
	f.mu.Lock()
	n := f.scriptLen
	f.mu.Unlock()
	results := make([]activity.Result, n)
	for i := range results {
		results[i] = activity.Result{Index: i, Success: true}
	}
	return results, nil
}

func (f *fakeActivity) GetState(ctx context.Context, activityID string) (activity.State, error) {
	return activity.Alive, nil
}

type errFake struct{ op string }

func (e errFake) Error() string { return e.op + " failed" }

func TestExecutorHappyPath(t *testing.T) {
	srv := inMemoryStoreServer(t)
	defer srv.Close()
	st := store.New(srv.URL)
	st.Quiet = true

	blobDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(blobDir, "in.bin"), []byte("HELLO"), 0o644); err != nil {
		t.Fatal(err)
	}
	outDir := t.TempDir()

	neg := &fakeNegotiator{}
	pay := &fakePaymentAcceptor{}
	act := &fakeActivity{storeBase: srv.URL, http: srv.Client()}

	ex := executor.New(neg, pay, act, st)

	sub := executor.Subtask{
		Index:   0,
		Def:     task.Def{task.BlobArg("in.bin"), task.OutputArg("result.bin")},
		BlobDir: blobDir,
		OutDir:  outDir,
	}

	res, err := ex.Run(context.Background(), sub)
	if err != nil {
		t.Fatal(err)
	}
	if res.AgreementID != "agreement-1" {
		t.Fatalf("unexpected agreement id: %s", res.AgreementID)
	}
	if len(res.Def.Outputs()) != 1 || res.Def.Outputs()[0] != "result.bin" {
		t.Fatalf("unexpected result descriptor: %+v", res.Def)
	}

	pay.mu.Lock()
	defer pay.mu.Unlock()
	if len(pay.accepted) != 1 || pay.accepted[0] != "agreement-1" {
		t.Fatalf("expected agreement accepted with payment manager, got %v", pay.accepted)
	}
}

func TestExecutorRetriesOnFailure(t *testing.T) {
	srv := inMemoryStoreServer(t)
	defer srv.Close()
	st := store.New(srv.URL)
	st.Quiet = true

	blobDir := t.TempDir()
	outDir := t.TempDir()

	neg := &fakeNegotiator{}
	pay := &fakePaymentAcceptor{}
	act := &fakeActivity{storeBase: srv.URL, http: srv.Client(), failCreate: 2}

	ex := executor.New(neg, pay, act, st)
	sub := executor.Subtask{Index: 0, Def: task.Def{task.OutputArg("result.bin")}, BlobDir: blobDir, OutDir: outDir}

	res, err := ex.Run(context.Background(), sub)
	if err != nil {
		t.Fatal(err)
	}
	if neg.calls != 3 {
		t.Fatalf("expected 3 negotiation attempts (2 failed activities + 1 success), got %d", neg.calls)
	}
	if res.AgreementID == "" {
		t.Fatal("expected a non-empty agreement id after eventual success")
	}
}
