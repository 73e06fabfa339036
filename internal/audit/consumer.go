package audit

import (
	"context"
	"encoding/json"
	"log"

	"labtrack/internal/metrics"
	"labtrack/internal/queue"
)

// Sink stores audit events.
type Sink interface {
	Insert(ctx context.Context, evt Event) (Event, error)
}

// Decode turns a queue message into an event. Bodies that are not JSON are
// kept verbatim as the detail.
func Decode(msg queue.Message) Event {
	var evt Event
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		evt = Event{Detail: string(msg.Body)}
	}
	if evt.Kind == "" {
		evt.Kind = msg.Type
	}
	return evt
}

// Consume records every message from msgs into sink until the channel closes.
// Failed inserts are logged and skipped. It returns the number recorded.
func Consume(ctx context.Context, msgs <-chan queue.Message, sink Sink) int {
	n := 0
	for msg := range msgs {
		evt := Decode(msg)
		if _, err := sink.Insert(ctx, evt); err != nil {
			log.Printf("audit insert %s failed: %v", msg.Type, err)
			metrics.AuditEvents.WithLabelValues(msg.Type, "failed").Inc()
			continue
		}
		metrics.AuditEvents.WithLabelValues(msg.Type, "recorded").Inc()
		log.Printf("event %s recorded for lab %q", evt.Kind, evt.LabID)
		n++
	}
	return n
}

// LogSink writes events to the process log when no database is configured.
type LogSink struct{}

func (LogSink) Insert(_ context.Context, evt Event) (Event, error) {
	log.Printf("audit %s lab=%q actor=%q %s", evt.Kind, evt.LabID, evt.ActorID, evt.Detail)
	return evt, nil
}
