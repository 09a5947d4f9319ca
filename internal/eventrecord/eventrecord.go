// Package eventrecord turns a rendered platform event into a sized JSON
// record ready for internal/queue.Enqueue. It owns the severity mapping
// table, the RFC 8259 string escaper, and the Full/Truncated/Minimum
// sizing policy that keeps a record inside a caller-supplied target
// buffer size.
package eventrecord

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aaronmbuhr/syslogagent/internal/queue"
)

// NoMessageText substitutes for an event with no formatted message body.
const NoMessageText = "(no event message given)"

// Severity is the fixed 1..7 syslog-style severity scale the platform's
// native levels are mapped onto.
type Severity int

const (
	SeverityCritical      Severity = 2
	SeverityError         Severity = 3
	SeverityWarning       Severity = 4
	SeverityNotice        Severity = 5 // default, and platform "LogAlways"
	SeverityInformational Severity = 6
	SeverityVerbose       Severity = 7
)

// SeverityFromPlatformLevel maps a platform event level (as a single
// digit string: "0".."5") to the fixed severity table. Unknown or empty
// levels map to SeverityNotice.
func SeverityFromPlatformLevel(level string) Severity {
	if level == "" {
		return SeverityNotice
	}
	switch level[0] {
	case '0': // LogAlways
		return SeverityNotice
	case '1': // Critical
		return SeverityCritical
	case '2': // Error
		return SeverityError
	case '3': // Warning
		return SeverityWarning
	case '4': // Informational
		return SeverityInformational
	case '5': // Verbose
		return SeverityVerbose
	default:
		return SeverityNotice
	}
}

// DataItem is one key/value pair from a platform event's EventData
// section.
type DataItem struct {
	Key   string
	Value string
}

// Event is the normalized input to Render: a rendered platform event
// plus the metadata needed to produce a JSON record.
type Event struct {
	Provider     string
	EventID      string
	Message      string // empty substitutes NoMessageText
	EventLogName string
	Timestamp    time.Time
	Microseconds int
	Severity     Severity
	EventData    []DataItem
}

// Framing selects which wire shape Render produces: the HTTP framing
// nests event-data under extra_fields, the JSON-TCP framing does not.
type Framing int

const (
	// HTTPFraming groups event-data under an extra_fields object.
	HTTPFraming Framing = iota
	// TCPFraming emits a flat record with no extra_fields object.
	TCPFraming
)

// Options carries the configuration-sourced fields every record needs:
// host override, facility number, and the fixed source/log-type tags.
type Options struct {
	Host       string
	Facility   int
	SourceType string
	SourceTag  string
	LogType    string
	Framing    Framing
}

// Level is the sizing policy chosen for one Render attempt.
type Level int

const (
	// Full includes the complete message and all event-data fields.
	Full Level = iota
	// Truncated shortens the message to fit, prefixed with a notice, but
	// keeps all event-data fields.
	Truncated
	// Minimum replaces the message with a short placeholder and omits
	// event-data fields entirely.
	Minimum
)

// truncatedPrefixFmt matches the original agent's exact wording so a
// downstream collector parsing this text keeps working unchanged.
const truncatedPrefixFmt = "(message truncated: %d bytes requested, %d bytes available) "

const minimumMessageText = "(message omitted due to buffer constraints)"

// estimatedFieldOverhead budgets quote/colon/comma/escaping bytes around
// one key/value pair in extra_fields.
const estimatedFieldOverhead = 8

// truncatedThresholdPct classifies an estimate against the target buffer
// size (see ChooseLevel): at or past 100% the record starts at Minimum;
// at or past this percentage (98%) it starts at Truncated.
const truncatedThresholdPct = 98

// EstimateSize pessimistically sizes ev as it would render under opts,
// before any buffer-bound truncation, mirroring the original agent's
// estimateMessageSize.
func EstimateSize(ev Event, opts Options) int {
	n := 2 // braces
	if opts.Host != "" {
		n += 10 + len(opts.Host)
	}
	n += 12 + len(ev.Provider)
	msg := ev.Message
	if msg == "" {
		msg = NoMessageText
	}
	n += 12 + len(msg)
	n += 20 // extra_fields wrapper
	n += 50 // severity/facility/source tags
	n += len(ev.EventID) + len(ev.EventLogName) + 30
	for _, d := range ev.EventData {
		n += len(d.Key) + len(d.Value) + estimatedFieldOverhead
	}
	return n
}

// ChooseLevel classifies an estimate against targetSize per spec: at or
// above targetSize, Minimum; at or above 98% of targetSize, Truncated;
// otherwise Full.
func ChooseLevel(estimate, targetSize int) Level {
	if targetSize <= 0 || estimate >= targetSize {
		return Minimum
	}
	if estimate*100 >= targetSize*truncatedThresholdPct {
		return Truncated
	}
	return Full
}

// Render emits ev as a JSON record in a freshly built slice of at most
// targetSize bytes. ok is false if even the
// Minimum rendering at the chosen level cannot fit targetSize bytes, in
// which case the caller should drop the record.
func Render(ev Event, opts Options, targetSize int) (out []byte, level Level, ok bool) {
	level = ChooseLevel(EstimateSize(ev, opts), targetSize)
	for {
		b, fits := render(ev, opts, targetSize, level)
		if fits {
			return b, level, true
		}
		if level == Minimum {
			return nil, level, false
		}
		level++
	}
}

func render(ev Event, opts Options, targetSize int, level Level) ([]byte, bool) {
	var b strings.Builder
	b.Grow(targetSize)
	b.WriteByte('{')

	wroteField := false
	field := func(key, value string) {
		if wroteField {
			b.WriteString(", ")
		}
		wroteField = true
		b.WriteByte('"')
		b.WriteString(key)
		b.WriteString(`":"`)
		EscapeJSONStringInto(&b, value)
		b.WriteByte('"')
	}

	if opts.Host != "" {
		field("host", opts.Host)
	}
	field("program", ev.Provider)
	field("severity", strconv.Itoa(int(ev.Severity)))
	field("facility", strconv.Itoa(opts.Facility))
	field("_source_type", opts.SourceType)
	field("_source_tag", opts.SourceTag)
	field("log_type", opts.LogType)
	field("event_id", ev.EventID)
	field("event_log", ev.EventLogName)

	message, truncationNote := messageFor(ev, targetSize, b.Len(), level)
	_ = truncationNote
	field("message", message)

	if level != Minimum && len(ev.EventData) > 0 {
		if opts.Framing == HTTPFraming {
			b.WriteString(`, "extra_fields":{ `)
			writeDataItems(&b, ev.EventData, false)
			b.WriteString(" }")
		} else {
			writeDataItems(&b, ev.EventData, true)
		}
	}

	b.WriteString(" }")
	out := []byte(b.String())
	return out, len(out) <= targetSize
}

func writeDataItems(b *strings.Builder, items []DataItem, leadingComma bool) {
	for i, d := range items {
		if leadingComma || i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('"')
		EscapeJSONStringInto(b, d.Key)
		b.WriteString(`":"`)
		EscapeJSONStringInto(b, d.Value)
		b.WriteByte('"')
	}
}

// messageFor produces the message field's text for level, given the
// bytes already written (priorLen) so truncation can budget against
// targetSize. Returns the text and whether it was truncated.
func messageFor(ev Event, targetSize, priorLen int, level Level) (string, bool) {
	msg := ev.Message
	if msg == "" {
		msg = NoMessageText
	}
	if level == Minimum {
		return minimumMessageText, false
	}
	if level != Truncated {
		return msg, false
	}

	reserve := 64 // room for the closing fields/braces after message
	available := targetSize - priorLen - reserve
	if available <= 0 {
		return minimumMessageText, false
	}
	if len(msg) <= available {
		return msg, false
	}

	prefix := sprintfTruncatePrefix(len(msg), available)
	if available <= len(prefix)+1 {
		// Not enough room for prefix plus any content; hard-truncate.
		cut := available
		if cut > len(msg) {
			cut = len(msg)
		}
		return msg[:cut], true
	}
	keep := available - len(prefix)
	if keep > len(msg) {
		keep = len(msg)
	}
	return prefix + msg[:keep], true
}

func sprintfTruncatePrefix(requested, available int) string {
	return "(message truncated: " + strconv.Itoa(requested) + " bytes requested, " +
		strconv.Itoa(available) + " bytes available) "
}

// EscapeJSONStringInto writes s into b as RFC 8259 JSON string content
// (without the surrounding quotes), escaping control characters as
// \u00XX and the standard backslash/quote/solidus escapes.
func EscapeJSONStringInto(b *strings.Builder, s string) {
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				const hex = "0123456789abcdef"
				b.WriteString(`\u00`)
				b.WriteByte(hex[(r>>4)&0xf])
				b.WriteByte(hex[r&0xf])
			} else {
				b.WriteRune(r)
			}
		}
	}
}

// EscapeJSONString is the non-builder convenience form of
// EscapeJSONStringInto, used by tests and by one-off callers.
func EscapeJSONString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	EscapeJSONStringInto(&b, s)
	return b.String()
}

// TraceLine returns a one-line correlation record for this event, keyed
// by a fresh UUID, suitable for the per-event-id trace logging §4.4
// requires. It carries no event content, only identifiers, so it is
// safe to log at a verbose level without leaking message bodies.
func TraceLine(ev Event, level Level) (traceID string, line string) {
	traceID = uuid.NewString()
	line = "trace=" + traceID + " event_id=" + ev.EventID + " provider=" + ev.Provider +
		" level=" + levelName(level)
	return traceID, line
}

func levelName(l Level) string {
	switch l {
	case Full:
		return "full"
	case Truncated:
		return "truncated"
	case Minimum:
		return "minimum"
	default:
		return "unknown"
	}
}

// EnqueueDroppingOldest enqueues data into q, removing the oldest queued
// message as many times as needed to make room when q is full. This is
// the drop-oldest-on-full backpressure policy: producers are never
// blocked, and the most recent events are preferred over old ones when
// a collector is unreachable.
func EnqueueDroppingOldest(q *queue.Queue, data []byte) bool {
	for q.Length() >= q.Capacity() {
		if !q.RemoveFront() {
			break
		}
	}
	return q.Enqueue(data)
}
