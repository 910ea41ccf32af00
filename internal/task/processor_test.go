package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/observability/alerting"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	// onRun 在运行过程中被调用，用于模拟运行期间的外部操作。
	onRun func(*Session)
	// errs 依次作为每次运行的错误，用完后成功。
	mu   sync.Mutex
	errs []error
}

func (f *fakeExecutor) Execute(ctx context.Context, s *Session) (RunResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return RunResult{}, ctx.Err()
		}
	}
	if f.onRun != nil {
		f.onRun(s)
	}
	f.processed.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return RunResult{}, err
	}
	return RunResult{Outcome: "success", Cycles: 1, Archived: 1, Summary: s.Goal}, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, e alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingDispatcher) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Metadata["stage"])
	}
	return out
}

func startProcessor(t *testing.T, p *Processor) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestProcessorHandlesConcurrentSessions(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	exec := &fakeExecutor{latency: 5 * time.Millisecond}

	service := NewService(store, queue, 2)
	stop := startProcessor(t, NewProcessor(exec, store, queue, queue, WithWorkerCount(8)))
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	total := 100
	ids := make([]string, 0, total)
	for i := range total {
		sess, err := service.Submit(ctx, SubmitRequest{Goal: fmt.Sprintf("goal-%d", i)})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, sess.ID)
	}
	for _, id := range ids {
		sess, err := service.WaitUntilCompleted(ctx, id, 5*time.Millisecond)
		if err != nil {
			t.Fatalf("wait %s: %v", id, err)
		}
		if sess.Status != StatusSucceeded || sess.Result == nil || sess.Result.Outcome != "success" {
			t.Fatalf("unexpected session %+v", sess)
		}
	}
	if int(exec.processed.Load()) != total {
		t.Fatalf("expected %d runs, got %d", total, exec.processed.Load())
	}
}

func TestProcessorRetriesRetryableFailures(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	unavailable := xerrors.New(xerrors.CodeTimeout, "backend timeout")
	exec := &fakeExecutor{errs: []error{unavailable, unavailable}}
	alerts := &recordingDispatcher{}

	service := NewService(store, queue, 2)
	stop := startProcessor(t, NewProcessor(exec, store, queue, queue, WithAlertDispatcher(alerts)))
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := service.Submit(ctx, SubmitRequest{Goal: "flaky"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	got, err := service.WaitUntilCompleted(ctx, sess.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got.Status != StatusSucceeded || got.Attempts != 3 {
		t.Fatalf("expected success on third attempt, got %+v", got)
	}
	if stages := alerts.stages(); len(stages) != 2 || stages[0] != "retry" || stages[1] != "retry" {
		t.Fatalf("unexpected alert stages %v", stages)
	}
}

func TestProcessorExhaustsRetries(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	unavailable := xerrors.New(xerrors.CodeTimeout, "backend timeout")
	exec := &fakeExecutor{errs: []error{unavailable, unavailable, unavailable}}
	alerts := &recordingDispatcher{}

	service := NewService(store, queue, 1)
	stop := startProcessor(t, NewProcessor(exec, store, queue, queue, WithAlertDispatcher(alerts)))
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, _ := service.Submit(ctx, SubmitRequest{Goal: "always down"})
	got, err := service.WaitUntilCompleted(ctx, sess.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got.Status != StatusFailed || got.Attempts != 2 || got.ErrorCode != string(xerrors.CodeTimeout) {
		t.Fatalf("unexpected session %+v", got)
	}
	if stages := alerts.stages(); len(stages) != 2 || stages[1] != "exhausted" {
		t.Fatalf("unexpected alert stages %v", stages)
	}
}

func TestProcessorTerminalFailureIsNotRetried(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	exec := &fakeExecutor{errs: []error{xerrors.New(xerrors.CodeInvalidArgument, "bad goal")}}

	service := NewService(store, queue, 3)
	stop := startProcessor(t, NewProcessor(exec, store, queue, queue))
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, _ := service.Submit(ctx, SubmitRequest{Goal: "g"})
	got, err := service.WaitUntilCompleted(ctx, sess.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got.Status != StatusFailed || got.Attempts != 1 {
		t.Fatalf("unexpected session %+v", got)
	}
}

func TestProcessorRecordsCancellation(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	exec := &fakeExecutor{errs: []error{xerrors.New(xerrors.CodeCancelled, "stopped by user")}}

	service := NewService(store, queue, 3)
	stop := startProcessor(t, NewProcessor(exec, store, queue, queue))
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, _ := service.Submit(ctx, SubmitRequest{Goal: "g"})
	got, err := service.WaitUntilCompleted(ctx, sess.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("unexpected session %+v", got)
	}
}

func TestSubmitIsIdempotentByID(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	defer queue.Close()
	service := NewService(store, queue, 1)
	ctx := context.Background()

	first, err := service.Submit(ctx, SubmitRequest{ID: "fixed", Goal: "g"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := service.Submit(ctx, SubmitRequest{ID: "fixed", Goal: "other"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if first.ID != second.ID || second.Goal != "g" {
		t.Fatalf("resubmission should return the existing session: %+v", second)
	}
	if len(queue.ch) != 1 {
		t.Fatalf("expected a single publish, got %d", len(queue.ch))
	}
	if _, err := service.Submit(ctx, SubmitRequest{Goal: "  "}); xerrors.CodeOf(err) != CodeSessionValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitKeepsSupplementary(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	defer queue.Close()
	service := NewService(store, queue, 1)
	ctx := context.Background()

	meta := map[string]any{"source": "web"}
	sess, err := service.Submit(ctx, SubmitRequest{Goal: "g", Supplementary: "  focus on medical imaging ", Metadata: meta})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Supplementary() != "focus on medical imaging" || got.Metadata["source"] != "web" {
		t.Fatalf("unexpected metadata %+v", got.Metadata)
	}
	if _, ok := meta[MetadataSupplementary]; ok {
		t.Fatal("caller metadata must not be modified")
	}

	plain, err := service.Submit(ctx, SubmitRequest{Goal: "g"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if plain.Supplementary() != "" || plain.Metadata != nil {
		t.Fatalf("plain submission should carry no metadata: %+v", plain.Metadata)
	}
}

// outcomeStore 在运行结果写入（无论是否成功）后发出通知。
type outcomeStore struct {
	*MemoryStore
	recorded chan error
}

func (o *outcomeStore) MarkSucceeded(ctx context.Context, id string, result RunResult) error {
	err := o.MemoryStore.MarkSucceeded(ctx, id, result)
	o.recorded <- err
	return err
}

func (o *outcomeStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	err := o.MemoryStore.MarkFailed(ctx, id, code, lastError, terminal)
	o.recorded <- err
	return err
}

func TestCancelDuringRunIsKept(t *testing.T) {
	cases := map[string][]error{
		"success":   nil,
		"retryable": {xerrors.New(xerrors.CodeTimeout, "backend timeout")},
	}
	for name, errs := range cases {
		t.Run(name, func(t *testing.T) {
			store := &outcomeStore{MemoryStore: NewMemoryStore(), recorded: make(chan error, 4)}
			queue := NewMemoryQueue(16)
			service := NewService(store, queue, 3)
			exec := &fakeExecutor{errs: errs}
			exec.onRun = func(s *Session) {
				if err := service.Cancel(context.Background(), s.ID, "stopped by user"); err != nil {
					t.Errorf("cancel: %v", err)
				}
			}
			stop := startProcessor(t, NewProcessor(exec, store, queue, queue))

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			sess, err := service.Submit(ctx, SubmitRequest{Goal: "g"})
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			select {
			case err := <-store.recorded:
				if !errors.Is(err, ErrSessionCompleted) {
					t.Fatalf("expected the late outcome to be rejected, got %v", err)
				}
			case <-ctx.Done():
				t.Fatal("run outcome was never recorded")
			}
			stop()

			got, err := service.Get(ctx, sess.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Status != StatusCancelled || got.Result != nil {
				t.Fatalf("cancellation was overwritten: %+v", got)
			}
			if len(queue.ch) != 0 || exec.processed.Load() != 1 {
				t.Fatalf("cancelled session must not run again, queued=%d runs=%d", len(queue.ch), exec.processed.Load())
			}
		})
	}
}
