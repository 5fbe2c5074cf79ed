package diagnosis

import "encoding/json"

// Workflow run statuses reported by the provider.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusStopped   = "stopped"
)

// Result is the canonical diagnosis result every delivery channel is
// normalized into. Once constructed it is never mutated.
type Result struct {
	WorkflowRunID string     `json:"workflow_run_id"`
	TaskID        string     `json:"task_id"`
	Data          ResultData `json:"data"`
}

// ResultData mirrors the provider's workflow run envelope.
type ResultData struct {
	ID          string  `json:"id"`
	WorkflowID  string  `json:"workflow_id"`
	Status      string  `json:"status"`
	Outputs     Outputs `json:"outputs"`
	Error       string  `json:"error,omitempty"`
	ElapsedTime float64 `json:"elapsed_time"`
	TotalTokens int64   `json:"total_tokens"`
	TotalSteps  int64   `json:"total_steps"`
	CreatedAt   int64   `json:"created_at"`
	FinishedAt  int64   `json:"finished_at"`
}

// Outputs carries the narrative report. Result is the only field the
// presentation layer parses; Extra keeps whatever else the workflow
// emitted so nothing is lost across channels.
type Outputs struct {
	Result string
	Extra  map[string]json.RawMessage
}

// MarshalJSON flattens Extra alongside the result field.
func (o Outputs) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(o.Extra)+1)
	for k, v := range o.Extra {
		out[k] = v
	}
	res, err := json.Marshal(o.Result)
	if err != nil {
		return nil, err
	}
	out["result"] = res
	return json.Marshal(out)
}

// UnmarshalJSON accepts any object, keeping unknown fields in Extra.
func (o *Outputs) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	o.Extra = make(map[string]json.RawMessage)
	for k, v := range raw {
		if k == "result" {
			// Tolerate non-string result values by keeping the raw text.
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				o.Result = s
			} else {
				o.Result = string(v)
			}
			continue
		}
		o.Extra[k] = v
	}
	return nil
}

// HasUsableOutput reports whether the result carries something the
// presentation layer can render.
func (r *Result) HasUsableOutput() bool {
	if r == nil {
		return false
	}
	if r.Data.Status == StatusFailed || r.Data.Status == StatusStopped {
		return false
	}
	return r.Data.Outputs.Result != ""
}
