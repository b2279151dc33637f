package pipeline

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/pkg/errors"
)

// ParseEvent decodes a single wire frame. The type must belong to the closed
// event set; the timestamp is parsed best-effort (servers have been observed
// emitting both RFC3339 and epoch millis) and never causes a parse failure.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, errors.Wrapf(err, "%s", ErrEventInvalidJSON)
	}
	if err := Validate(ev); err != nil {
		return Event{}, err
	}
	ev.receivedAt = parseTimestamp(ev.Ts)
	return ev, nil
}

func parseTimestamp(ts string) time.Time {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t
	}
	t, err := dateparse.ParseAny(ts)
	if err != nil {
		return time.Time{}
	}
	return t
}

// DecodeStart extracts the run.started payload.
func (e Event) DecodeStart() (StartPayload, error) {
	var p StartPayload
	if err := decodePayload(e, &p); err != nil {
		return StartPayload{}, err
	}
	if p.RunID == "" {
		p.RunID = e.RunID
	}
	return p, nil
}

// DecodeCompletion extracts the run.completed payload.
func (e Event) DecodeCompletion() (CompletionPayload, error) {
	var p CompletionPayload
	err := decodePayload(e, &p)
	return p, err
}

// DecodeQuality extracts the quality.scored payload.
func (e Event) DecodeQuality() (QualityReport, error) {
	var p QualityReport
	err := decodePayload(e, &p)
	return p, err
}

// DecodeTool extracts the tool name from tool.* payloads.
func (e Event) DecodeTool() (ToolPayload, error) {
	var p ToolPayload
	err := decodePayload(e, &p)
	return p, err
}

// DecodeFailure extracts the run.failed payload.
func (e Event) DecodeFailure() (FailurePayload, error) {
	var p FailurePayload
	err := decodePayload(e, &p)
	return p, err
}

func decodePayload(e Event, out any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return errors.Wrapf(err, "%s: %s payload", ErrEventBadPayload, e.Type)
	}
	return nil
}
