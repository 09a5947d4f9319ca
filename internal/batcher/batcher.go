// Package batcher assembles a contiguous wire buffer (C3) from a prefix of
// a queue's messages using a framing policy. It never mutates the queue;
// the caller (internal/sender) removes messages from the head only after
// a successful post, preserving at-least-once delivery across a crash
// between post and remove.
package batcher

import (
	"github.com/aaronmbuhr/syslogagent/internal/queue"
)

// Status is the outcome of a Batch call.
type Status int

const (
	// Success means at least one message was batched.
	Success Status = iota
	// NoMessages means the queue had nothing to batch.
	NoMessages
	// BufferTooSmall means not even one minimal message fits alongside
	// the framing header and trailer.
	BufferTooSmall
	// InvalidBuffer means the destination buffer was nil/zero-size.
	InvalidBuffer
)

func (s Status) String() string {
	switch s {
	case Success:
		return "Success"
	case NoMessages:
		return "NoMessages"
	case BufferTooSmall:
		return "BufferTooSmall"
	case InvalidBuffer:
		return "InvalidBuffer"
	default:
		return "Unknown"
	}
}

// Framing declares the header/separator/trailer bytes surrounding a batch.
// The batcher core is agnostic to which framing is in play.
type Framing struct {
	Header    string
	Separator string
	Trailer   string
}

// HTTPJSONArray frames a batch as a JSON object with an "events" array,
// the wire format consumed by internal/sink's HTTP sink.
var HTTPJSONArray = Framing{
	Header:    `{ "events": [ `,
	Separator: ", ",
	Trailer:   " ] }",
}

// NewlineDelimited frames a batch as one JSON record per line, the wire
// format consumed by internal/sink's raw-JSON TCP sink.
var NewlineDelimited = Framing{
	Header:    "",
	Separator: "\n",
	Trailer:   "",
}

// safetyMargin is extra room required past a message's own bytes,
// separator and trailer. It is zero, so a message that fills dst exactly
// together with the header and trailer is accepted.
const safetyMargin = 0

// maxMsgBytes mirrors internal/queue.MaxMsgBytes: a message reported
// larger than this by the queue is flagged as a corrupt oversized
// message and skipped rather than trusted.
const maxMsgBytes = queue.MaxMsgBytes

// Result reports what a Batch call did.
type Result struct {
	Status          Status
	MessagesBatched int
	BytesWritten    int
	// SawOversized is true if traversal encountered a message longer than
	// internal/queue.MaxMsgBytes; the batcher skips such messages rather
	// than trusting queue-reported corruption.
	SawOversized bool
}

// Batch pulls a prefix of q's messages into dst using f's framing,
// writing at most MaxBatch messages and never exceeding len(dst) bytes.
// It performs no mutation of q: the caller must RemoveFrontN(result.
// MessagesBatched) only after a successful downstream post.
func Batch(q *queue.Queue, dst []byte, f Framing, maxBatch int) Result {
	if len(dst) == 0 {
		return Result{Status: InvalidBuffer}
	}
	if maxBatch <= 0 {
		maxBatch = 1<<31 - 1
	}

	header := []byte(f.Header)
	sep := []byte(f.Separator)
	trailer := []byte(f.Trailer)

	if len(dst) < len(header)+len(trailer)+1 {
		return Result{Status: BufferTooSmall}
	}

	handles := q.Traverse()
	if len(handles) == 0 {
		return Result{Status: NoMessages}
	}

	cursor := copy(dst, header)
	batched := 0
	sawOversized := false

	scratch := make([]byte, 0)

	for _, h := range handles {
		if batched >= maxBatch {
			break
		}
		l := q.LengthAt(h)
		if l == 0 {
			continue
		}
		if l > maxMsgBytes {
			sawOversized = true
			continue
		}
		if cap(scratch) < l {
			scratch = make([]byte, l)
		}
		scratch = scratch[:l]
		n := q.PeekAt(h, scratch)
		if n < 0 {
			// Message was removed concurrently since the snapshot; skip it.
			continue
		}
		scratch = scratch[:n]

		sepLen := 0
		if batched > 0 {
			sepLen = len(sep)
		}
		need := n + sepLen + len(trailer) + safetyMargin

		if batched == 0 && len(header)+need > len(dst) {
			return Result{Status: BufferTooSmall}
		}
		if cursor+need > len(dst) {
			break
		}

		if batched > 0 {
			cursor += copy(dst[cursor:], sep)
		}
		cursor += copy(dst[cursor:], scratch)
		batched++
	}

	cursor += copy(dst[cursor:], trailer)

	if batched == 0 {
		return Result{Status: NoMessages, SawOversized: sawOversized}
	}

	return Result{Status: Success, MessagesBatched: batched, BytesWritten: cursor, SawOversized: sawOversized}
}
