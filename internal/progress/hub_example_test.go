package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
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
		RunID: UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001")),
		TS:    time.Unix(0, 0),
		Kind:  KindStarted,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleSink implements a custom Sink that totals extracted certifiers.
func ExampleSink() {
	var certifiers int
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Kind == KindECExtracted {
				certifiers += evt.Certifiers
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
		RunID:      UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000002")),
		TS:         time.Unix(0, 0),
		Kind:       KindECExtracted,
		Stage:      "ec_details",
		Codigo:     "EC0217",
		Certifiers: 12,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("certifiers seen: %d\n", certifiers)
	// Output:
	// certifiers seen: 12
}

// ExampleHub_Subscribe drains a typed event stream.
func ExampleHub_Subscribe() {
	hub := NewHub(Config{MaxBatchEvents: 1})
	events, cancel := hub.Subscribe(4)
	defer cancel()

	runID := UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000003"))
	hub.Emit(Event{RunID: runID, TS: time.Unix(0, 0), Kind: KindProgress, Processed: 1, Total: 2, Current: "EC0001"})
	hub.Emit(Event{RunID: runID, TS: time.Unix(0, 0), Kind: KindProgress, Processed: 2, Total: 2, Current: "EC0002"})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	for evt := range events {
		fmt.Printf("%d/%d %s\n", evt.Processed, evt.Total, evt.Current)
	}
	// Output:
	// 1/2 EC0001
	// 2/2 EC0002
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
