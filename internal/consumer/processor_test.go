package consumer

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func TestProcessorCommitsOnSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payload := []byte(`{"activity_id":"abc"}`)
	msg := kafka.Message{
		Topic:     "activity_timeline",
		Partition: 0,
		Offset:    10,
		Time:      time.Now().UTC(),
		Value:     payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("activity.logged")},
			{Key: "owner_id", Value: []byte("owner-1")},
		},
	}

	reader := &stubReader{
		messages: []kafka.Message{msg},
		after:    contextCanceled,
	}
	handler := &stubHandler{}

	processor := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, "activity.logged", handler.last.EventType)
	require.Equal(t, "owner-1", handler.last.OwnerID)
	require.JSONEq(t, string(payload), string(handler.last.Payload))
}

func TestProcessorSkipsCommitOnHandlerError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := kafka.Message{
		Topic: "day_totals",
		Value: []byte(`{"owner_id":"owner-1"}`),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("day.total_changed")},
		},
	}

	reader := &stubReader{
		messages: []kafka.Message{msg},
		after:    contextCanceled,
	}
	handler := &stubHandler{err: errors.New("boom")}

	processor := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 0, reader.commitCalls)
}

func TestProcessorCommitsMalformedMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cases := []kafka.Message{
		{
			// Missing event_type header.
			Topic: "activity_timeline",
			Value: []byte(`{"ok":true}`),
		},
		{
			Topic: "activity_timeline",
			Value: []byte(`{"truncated":`),
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte("activity.logged")},
			},
		},
	}

	reader := &stubReader{
		messages: cases,
		after:    contextCanceled,
	}
	handler := &stubHandler{}

	processor := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 0, handler.calls, "malformed messages must not reach the handler")
	require.Equal(t, 2, reader.commitCalls, "malformed messages are committed to avoid poison pills")
}

func contextCanceled(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, context.Canceled
}

type stubReader struct {
	messages    []kafka.Message
	next        int
	after       func(context.Context) (kafka.Message, error)
	commitCalls int
}

func (s *stubReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if s.next < len(s.messages) {
		msg := s.messages[s.next]
		s.next++
		return msg, nil
	}
	if s.after != nil {
		return s.after(ctx)
	}
	return kafka.Message{}, context.Canceled
}

func (s *stubReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	s.commitCalls += len(msgs)
	return nil
}

func (s *stubReader) Close() error { return nil }

type stubHandler struct {
	calls int
	last  Message
	err   error
}

func (s *stubHandler) Handle(ctx context.Context, msg Message) error {
	s.calls++
	s.last = msg
	return s.err
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
