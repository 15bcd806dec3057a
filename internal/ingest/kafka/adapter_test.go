package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"telecomrouter/internal/dispatch"
	"telecomrouter/internal/router"

	"github.com/twmb/franz-go/pkg/kgo"
)

// fakeDispatch replies immediately through job.Sink, the way
// *dispatch.Dispatcher.Dispatch does synchronously.
type fakeDispatch struct {
	mu     sync.Mutex
	calls  int
	status string
	fail   bool
}

func (f *fakeDispatch) Dispatch(job dispatch.Job) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail {
		return // simulate no response arriving
	}
	resp := router.Response{Op: job.Op, MSISDN: job.MSISDN, Status: f.status, RouteGroup: "rg-1"}
	job.Sink.DeliverLine(resp.Marshal())
}

func (f *fakeDispatch) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestConfigWithDefaultsAndValidate(t *testing.T) {
	cfg := Config{Enabled: true, Brokers: []string{"127.0.0.1:9092"}, Topics: []string{"reconcile"}, GroupID: "g1"}
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.ResultTopic != "route-reconciliation-results" {
		t.Fatalf("unexpected default result topic: %q", cfg.ResultTopic)
	}
	if cfg.WorkerCount != 4 || cfg.QueueCapacity != 1024 || cfg.MaxPollRecords != 500 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestConfigValidateRejectsMissingFieldsWhenEnabled(t *testing.T) {
	cfg := Config{Enabled: true}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for enabled config with no brokers/topics/group")
	}
}

func TestResolveDispatchesAndParsesResponse(t *testing.T) {
	d := &fakeDispatch{status: "OK"}
	a := &Adapter{cfg: Config{}, dispatcher: d}
	rec := &kgo.Record{Topic: "reconcile", Value: []byte(`{"msisdn":"+14085551234","op":"route"}`)}

	resp, err := a.resolve(context.Background(), rec)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resp.Status != "OK" || resp.MSISDN != "+14085551234" || resp.RouteGroup != "rg-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestResolveRejectsMissingMSISDN(t *testing.T) {
	a := &Adapter{cfg: Config{}, dispatcher: &fakeDispatch{status: "OK"}}
	rec := &kgo.Record{Topic: "reconcile", Value: []byte(`{"op":"route"}`)}
	if _, err := a.resolve(context.Background(), rec); err == nil {
		t.Fatal("expected error for missing msisdn")
	}
}

func TestResolveTimesOutWhenNoResponseArrives(t *testing.T) {
	a := &Adapter{cfg: Config{}, dispatcher: &fakeDispatch{fail: true}}
	rec := &kgo.Record{Topic: "reconcile", Value: []byte(`{"msisdn":"+14085551234"}`)}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := a.resolve(ctx, rec); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestRunWorkerProducesResultAndCommitsOnSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := &fakeDispatch{status: "OK"}
	a := &Adapter{
		cfg:        Config{ResultTopic: "route-reconciliation-results"},
		dispatcher: dispatcher,
		records:    make(chan *kgo.Record, 1),
		acks:       make(chan recordAck, 1),
	}
	var produced []string
	a.produce = func(_ context.Context, topic string, value []byte) { produced = append(produced, topic+":"+string(value)) }

	committed := make(chan struct{}, 1)
	a.markCommit = func(*kgo.Record) { committed <- struct{}{} }
	a.commitMarked = func(context.Context) error { return nil }
	a.pauseFetch = func(...string) {}
	a.resumeFetch = func(...string) {}

	go a.handleAcks(ctx)
	go a.runWorker(ctx)

	a.records <- &kgo.Record{Topic: "reconcile", Partition: 0, Offset: 1, Value: []byte(`{"msisdn":"+14085551234"}`)}

	select {
	case <-committed:
	case <-time.After(time.Second):
		t.Fatal("expected offset commit after successful resolve")
	}
	if len(produced) != 1 {
		t.Fatalf("expected one produced result, got %d", len(produced))
	}
}

func TestRunWorkerSkipsCommitOnResolveFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := &Adapter{
		cfg:        Config{ResultTopic: "route-reconciliation-results"},
		dispatcher: &fakeDispatch{status: "OK"},
		records:    make(chan *kgo.Record, 1),
		acks:       make(chan recordAck, 1),
	}
	a.produce = func(context.Context, string, []byte) {}
	commits := 0
	a.markCommit = func(*kgo.Record) { commits++ }
	a.commitMarked = func(context.Context) error { return nil }
	a.pauseFetch = func(...string) {}
	a.resumeFetch = func(...string) {}

	go a.handleAcks(ctx)
	go a.runWorker(ctx)

	a.records <- &kgo.Record{Topic: "reconcile", Partition: 0, Offset: 1, Value: []byte(`{"op":"route"}`)}
	time.Sleep(60 * time.Millisecond)
	if commits != 0 {
		t.Fatalf("expected no offset commit when msisdn is missing, got %d", commits)
	}
}

func TestBackpressurePauseAndResume(t *testing.T) {
	a := &Adapter{cfg: Config{Topics: []string{"reconcile"}}, records: make(chan *kgo.Record, 2)}
	paused := 0
	resumed := 0
	a.pauseFetch = func(...string) { paused++ }
	a.resumeFetch = func(...string) { resumed++ }

	a.records <- &kgo.Record{}
	a.records <- &kgo.Record{}
	a.maybePause()
	if paused != 1 {
		t.Fatalf("expected pause, got %d", paused)
	}
	<-a.records
	a.maybeResume()
	if resumed != 1 {
		t.Fatalf("expected resume, got %d", resumed)
	}
}
