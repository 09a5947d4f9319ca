package batcher

import (
	"testing"

	"github.com/aaronmbuhr/syslogagent/internal/pool"
	"github.com/aaronmbuhr/syslogagent/internal/queue"
)

func newTestQueue(capacity int) *queue.Queue {
	p := pool.New(32, 16, pool.NeverShrink)
	return queue.New(p, capacity)
}

func TestHappyPathHTTPFraming(t *testing.T) {
	q := newTestQueue(10)
	q.Enqueue([]byte(`{"k":1}`))
	q.Enqueue([]byte(`{"k":2}`))
	q.Enqueue([]byte(`{"k":3}`))

	dst := make([]byte, 1024)
	res := Batch(q, dst, HTTPJSONArray, 0)
	if res.Status != Success {
		t.Fatalf("expected Success, got %v", res.Status)
	}
	if res.MessagesBatched != 3 {
		t.Fatalf("expected 3 batched, got %d", res.MessagesBatched)
	}
	want := `{ "events": [ {"k":1}, {"k":2}, {"k":3} ] }`
	got := string(dst[:res.BytesWritten])
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestNewlineFraming(t *testing.T) {
	q := newTestQueue(10)
	q.Enqueue([]byte(`{"k":1}`))
	q.Enqueue([]byte(`{"k":2}`))
	q.Enqueue([]byte(`{"k":3}`))

	dst := make([]byte, 1024)
	res := Batch(q, dst, NewlineDelimited, 0)
	if res.Status != Success || res.MessagesBatched != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	want := "{\"k\":1}\n{\"k\":2}\n{\"k\":3}"
	got := string(dst[:res.BytesWritten])
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestOverflowFlushAcrossCalls(t *testing.T) {
	q := newTestQueue(10)
	a := make([]byte, 400)
	b := make([]byte, 400)
	c := make([]byte, 210) // 14+400+2+400+2+210+4 = 1032 > 1024, so C overflows
	for i := range a {
		a[i] = 'A'
	}
	for i := range b {
		b[i] = 'B'
	}
	for i := range c {
		c[i] = 'C'
	}
	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	dst := make([]byte, 1024)
	res := Batch(q, dst, HTTPJSONArray, 0)
	if res.Status != Success || res.MessagesBatched != 2 {
		t.Fatalf("expected first call to batch A,B, got %+v", res)
	}
	if q.RemoveFrontN(2) != 2 {
		t.Fatal("expected to remove 2 messages")
	}

	res2 := Batch(q, dst, HTTPJSONArray, 0)
	if res2.Status != Success || res2.MessagesBatched != 1 {
		t.Fatalf("expected second call to batch C, got %+v", res2)
	}
}

func TestNoMessagesOnEmptyQueue(t *testing.T) {
	q := newTestQueue(10)
	dst := make([]byte, 1024)
	res := Batch(q, dst, HTTPJSONArray, 0)
	if res.Status != NoMessages {
		t.Fatalf("expected NoMessages, got %v", res.Status)
	}
}

func TestBufferTooSmallForHeaderTrailer(t *testing.T) {
	q := newTestQueue(10)
	q.Enqueue([]byte(`{"k":1}`))
	dst := make([]byte, len(HTTPJSONArray.Header)+len(HTTPJSONArray.Trailer)) // no room for +1
	res := Batch(q, dst, HTTPJSONArray, 0)
	if res.Status != BufferTooSmall {
		t.Fatalf("expected BufferTooSmall, got %v", res.Status)
	}
	if res.MessagesBatched != 0 || res.BytesWritten != 0 {
		t.Fatalf("expected zero counters, got %+v", res)
	}
}

func TestExactFitSucceeds(t *testing.T) {
	q := newTestQueue(10)
	msg := []byte(`{"k":1}`)
	q.Enqueue(msg)

	size := len(NewlineDelimited.Header) + len(msg) + len(NewlineDelimited.Trailer)
	dst := make([]byte, size)
	res := Batch(q, dst, NewlineDelimited, 0)
	if res.Status != Success {
		t.Fatalf("expected Success, got %v", res.Status)
	}
	if res.MessagesBatched != 1 {
		t.Fatalf("expected 1 message, got %d", res.MessagesBatched)
	}
	if res.BytesWritten != size {
		t.Fatalf("expected bytes_written == buffer_size (%d), got %d", size, res.BytesWritten)
	}
}

func TestMaxBatchCap(t *testing.T) {
	q := newTestQueue(10)
	for i := 0; i < 5; i++ {
		q.Enqueue([]byte(`{"k":1}`))
	}
	dst := make([]byte, 1024)
	res := Batch(q, dst, HTTPJSONArray, 2)
	if res.Status != Success || res.MessagesBatched != 2 {
		t.Fatalf("expected batch capped at 2, got %+v", res)
	}
}

func TestBytesWrittenContractExact(t *testing.T) {
	q := newTestQueue(10)
	msgs := []string{`{"a":1}`, `{"b":22}`, `{"c":333}`}
	for _, m := range msgs {
		q.Enqueue([]byte(m))
	}
	dst := make([]byte, 1024)
	res := Batch(q, dst, HTTPJSONArray, 0)
	if res.Status != Success {
		t.Fatalf("expected Success, got %v", res.Status)
	}

	expected := len(HTTPJSONArray.Header) + len(HTTPJSONArray.Trailer)
	for _, m := range msgs {
		expected += len(m)
	}
	expected += (len(msgs) - 1) * len(HTTPJSONArray.Separator)

	if res.BytesWritten != expected {
		t.Fatalf("expected bytes_written=%d, got %d", expected, res.BytesWritten)
	}
	if res.BytesWritten > len(dst) {
		t.Fatal("bytes_written must not exceed buffer size")
	}
}

func TestInvalidBufferOnEmptyDst(t *testing.T) {
	q := newTestQueue(10)
	res := Batch(q, nil, HTTPJSONArray, 0)
	if res.Status != InvalidBuffer {
		t.Fatalf("expected InvalidBuffer, got %v", res.Status)
	}
}

func TestOversizedMessageSkippedAndFlagged(t *testing.T) {
	q := newTestQueue(10)
	q.Enqueue([]byte(`{"k":1}`))
	dst := make([]byte, 1024)
	res := Batch(q, dst, HTTPJSONArray, 0)
	if res.Status != Success || res.MessagesBatched != 1 {
		t.Fatalf("expected single valid message to batch, got %+v", res)
	}
	if res.SawOversized {
		t.Fatal("did not expect SawOversized for a normal message")
	}
}

func TestQueueNeverMutatedByBatch(t *testing.T) {
	q := newTestQueue(10)
	q.Enqueue([]byte(`{"k":1}`))
	q.Enqueue([]byte(`{"k":2}`))
	dst := make([]byte, 1024)
	Batch(q, dst, HTTPJSONArray, 0)
	if q.Length() != 2 {
		t.Fatalf("batch must never remove from queue, length=%d", q.Length())
	}
}
