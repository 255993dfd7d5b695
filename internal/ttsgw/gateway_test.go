package ttsgw

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeProvider lets tests script a fixed sequence of Synthesize results
// keyed by call order, without opening a real connection.
type fakeProvider struct {
	mu    sync.Mutex
	calls int
	// results[i] is returned on the i-th call (0-indexed); if i is beyond
	// len(results), the last entry repeats.
	results []func() (<-chan Event, error)
}

func (f *fakeProvider) Synthesize(ctx context.Context, req Request) (<-chan Event, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i]()
}

func chunksThenMeta(chunks ...[]byte) func() (<-chan Event, error) {
	return func() (<-chan Event, error) {
		ch := make(chan Event, len(chunks)+1)
		for _, c := range chunks {
			ch <- Event{Chunk: c}
		}
		ch <- Event{Meta: &Metadata{DurationMS: 100, SampleRate: 24000}}
		close(ch)
		return ch, nil
	}
}

func failImmediately(err error) func() (<-chan Event, error) {
	return func() (<-chan Event, error) {
		return nil, err
	}
}

func TestGateway_DeliversStartChunksComplete(t *testing.T) {
	fp := &fakeProvider{results: []func() (<-chan Event, error){
		chunksThenMeta([]byte("a"), []byte("b")),
	}}

	var events []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	}
	done := make(chan struct{})

	g := New(context.Background(), fp, Config{Voice: "nova", Format: "wav"}, Callbacks{
		OnStart: func(i int, text string) { record("start") },
		OnChunk: func(i int, data []byte) { record("chunk:" + string(data)) },
		OnComplete: func(i int, m Metadata) {
			record("complete")
			close(done)
		},
		OnFailed: func(i int, err error) { record("failed") },
	}, 4)
	defer g.Close()

	if err := g.Submit(Sentence{Index: 0, Text: "hello"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"start", "chunk:a", "chunk:b", "complete"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestGateway_RetriesThenSucceeds(t *testing.T) {
	fp := &fakeProvider{results: []func() (<-chan Event, error){
		failImmediately(errors.New("boom")),
		failImmediately(errors.New("boom again")),
		chunksThenMeta([]byte("x")),
	}}

	done := make(chan struct{})
	var failedCalled bool
	g := New(context.Background(), fp, Config{}, Callbacks{
		OnComplete: func(i int, m Metadata) { close(done) },
		OnFailed:   func(i int, err error) { failedCalled = true },
	}, 4)
	defer g.Close()

	g.Submit(Sentence{Index: 0, Text: "retry me"})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for eventual success")
	}
	if failedCalled {
		t.Error("OnFailed should not fire when a retry eventually succeeds")
	}
}

func TestGateway_ExhaustsRetriesThenFails(t *testing.T) {
	fp := &fakeProvider{results: []func() (<-chan Event, error){
		failImmediately(errors.New("always fails")),
	}}

	failedCh := make(chan error, 1)
	g := New(context.Background(), fp, Config{}, Callbacks{
		OnFailed: func(i int, err error) { failedCh <- err },
		OnComplete: func(i int, m Metadata) {
			t.Error("OnComplete should not fire for a sentence that never succeeds")
		},
	}, 4)
	defer g.Close()

	g.Submit(Sentence{Index: 2, Text: "never works"})

	select {
	case err := <-failedCh:
		if err == nil {
			t.Error("expected a non-nil error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnFailed")
	}
}

func TestGateway_ProcessesSentencesInOrder(t *testing.T) {
	fp := &fakeProvider{results: []func() (<-chan Event, error){
		chunksThenMeta([]byte("1")),
		chunksThenMeta([]byte("2")),
		chunksThenMeta([]byte("3")),
	}}

	var order []int
	var mu sync.Mutex
	completions := make(chan struct{}, 3)
	g := New(context.Background(), fp, Config{}, Callbacks{
		OnComplete: func(i int, m Metadata) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			completions <- struct{}{}
		},
	}, 4)
	defer g.Close()

	g.Submit(Sentence{Index: 0, Text: "one"})
	g.Submit(Sentence{Index: 1, Text: "two"})
	g.Submit(Sentence{Index: 2, Text: "three"})

	for i := 0; i < 3; i++ {
		select {
		case <-completions:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for all completions")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, idx := range order {
		if idx != i {
			t.Errorf("completion order = %v, want sequential 0,1,2", order)
			break
		}
	}
}
