package diagnosis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrMalformedPayload means no candidate outputs source in the payload was
// an object. Channels treat it as non-resolving; it never aborts the race.
var ErrMalformedPayload = errors.New("diagnosis: malformed payload")

// Synthesized id prefixes, kept from the legacy relay format.
const (
	runIDPrefix    = "webhook_"
	taskIDPrefix   = "task_"
	resultIDPrefix = "result_"
)

// Normalize converts a raw delivery payload of unknown shape into the
// canonical Result. The provider offers no shared schema across its
// delivery paths, so this is an ordered chain of extractors: full provider
// envelope first, then progressively flatter shapes. now drives every
// synthesized id and timestamp so results are deterministic under test.
func Normalize(raw []byte, now time.Time) (*Result, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	return normalizeObject(obj, now)
}

// decodeObject parses raw JSON into an object, unwrapping one level of
// string encoding: relays occasionally deliver the body as a JSON string
// that itself contains the JSON object.
func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj, nil
	}
	var wrapped string
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		if err := json.Unmarshal([]byte(wrapped), &obj); err == nil {
			return obj, nil
		}
	}
	return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
}

func normalizeObject(obj map[string]json.RawMessage, now time.Time) (*Result, error) {
	ms := now.UnixMilli()

	// Full provider envelope: data.outputs present.
	if data, ok := asObject(obj["data"]); ok {
		if _, hasOutputs := asObject(data["outputs"]); hasOutputs {
			return normalizeEnvelope(obj, data, ms)
		}
	}

	// Flatter shapes: pick the first object that can serve as outputs.
	source := pickOutputsSource(obj)
	if source == nil {
		return nil, fmt.Errorf("%w: no outputs source", ErrMalformedPayload)
	}

	var outputs Outputs
	outputs.Extra = make(map[string]json.RawMessage)
	for k, v := range source {
		if k == "result" {
			continue
		}
		outputs.Extra[k] = v
	}
	outputs.Result = firstString(source, "result", "output", "text")
	if outputs.Result == "" {
		// Nothing recognizable; keep the whole payload so the user at
		// least sees what arrived.
		if whole, err := json.Marshal(obj); err == nil {
			outputs.Result = string(whole)
		}
	}

	runID := stringField(obj, "workflow_run_id")
	if runID == "" {
		runID = stringField(source, "workflow_run_id")
	}
	if runID == "" {
		runID = runIDPrefix + strconv.FormatInt(ms, 10)
	}

	return &Result{
		WorkflowRunID: runID,
		TaskID:        taskIDPrefix + strconv.FormatInt(ms, 10),
		Data: ResultData{
			ID:         resultIDPrefix + strconv.FormatInt(ms, 10),
			WorkflowID: stringField(obj, "workflow_id"),
			Status:     StatusSucceeded,
			Outputs:    outputs,
			CreatedAt:  ms,
			FinishedAt: ms,
		},
	}, nil
}

// normalizeEnvelope handles the provider's native run envelope, filling in
// whatever the delivery path stripped.
func normalizeEnvelope(obj, data map[string]json.RawMessage, ms int64) (*Result, error) {
	var res Result
	whole, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := json.Unmarshal(whole, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if res.WorkflowRunID == "" {
		res.WorkflowRunID = runIDPrefix + strconv.FormatInt(ms, 10)
	}
	if res.TaskID == "" {
		if id := stringField(data, "id"); id != "" {
			res.TaskID = id
		} else {
			res.TaskID = taskIDPrefix + strconv.FormatInt(ms, 10)
		}
	}
	if res.Data.ID == "" {
		res.Data.ID = resultIDPrefix + strconv.FormatInt(ms, 10)
	}
	if res.Data.WorkflowID == "" {
		res.Data.WorkflowID = res.WorkflowRunID
	}
	if res.Data.Status == "" {
		res.Data.Status = StatusSucceeded
	}
	if res.Data.CreatedAt == 0 {
		res.Data.CreatedAt = ms
	}
	if res.Data.FinishedAt == 0 {
		res.Data.FinishedAt = ms
	}
	return &res, nil
}

// pickOutputsSource returns, in priority order, the first of data,
// outputs, result, or the payload itself that is a JSON object.
func pickOutputsSource(obj map[string]json.RawMessage) map[string]json.RawMessage {
	for _, key := range []string{"data", "outputs", "result"} {
		if nested, ok := asObject(obj[key]); ok {
			return nested
		}
	}
	return obj
}

func asObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func stringField(obj map[string]json.RawMessage, key string) string {
	raw, ok := obj[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func firstString(obj map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		if s := stringField(obj, key); s != "" {
			return s
		}
	}
	return ""
}
