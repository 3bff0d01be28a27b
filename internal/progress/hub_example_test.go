package progress

import (
	"context"
	"fmt"
	"time"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{
		TrackerKey: "a1b2",
		TS:         time.Unix(0, 0),
		Stage:      StageJobStart,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleSink implements a custom Sink that counts rejected documents.
func ExampleSink() {
	var rejected int
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Outcome == OutcomeRejected {
				rejected++
			}
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     2,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, capture)

	hub.Emit(Event{
		TrackerKey: "a1b2",
		TS:         time.Unix(0, 0),
		Stage:      StageFetchDone,
		Site:       "example.com",
		Outcome:    OutcomeRejected,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("rejected during archival: %d\n", rejected)
	// Output:
	// rejected during archival: 1
}

// ExampleTracker_Snapshot shows provisional successes turning into confirmed ones.
func ExampleTracker_Snapshot() {
	tracker := NewTracker("a1b2", "job-1", nil)
	tracker.SetTotal(2)
	tracker.MarkProvisional("https://example.com/a")
	tracker.MarkProvisional("https://example.com/b")
	fmt.Println("running:", tracker.Snapshot().Successful)

	tracker.MarkArchiveRejected("https://example.com/b")
	tracker.SetConfirmed(1)
	snap := tracker.Snapshot()
	fmt.Println("complete:", snap.Successful, snap.Failed)
	// Output:
	// running: 2
	// complete: 1 1
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
