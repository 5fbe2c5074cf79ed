package diagnosis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// ScaleQuestionCount is the number of required 1-5 scale answers (Q1-Q35).
	ScaleQuestionCount = 35
	// FreeTextQuestionCount is the number of optional free-text answers (Q36-Q40).
	FreeTextQuestionCount = 5
	// FreeTextMaxLen caps each free-text answer.
	FreeTextMaxLen = 500
	// MaxToolSelections caps each of the paid/free tool lists.
	MaxToolSelections = 3
)

// Request holds one user's survey answers across all form steps.
type Request struct {
	JobType            string
	BusinessChallenge1 string
	BusinessChallenge2 string
	BusinessChallenge3 string

	// Scale holds Q1-Q35; 0 means unanswered.
	Scale [ScaleQuestionCount]int
	// FreeText holds Q36-Q40.
	FreeText [FreeTextQuestionCount]string

	Name    string
	Company string

	// Tool selections, comma-joined lists of up to three names each.
	Yuryo    string
	Muryo    string
	Katsuyou string
}

// FieldErrors maps a field name to its validation message.
type FieldErrors map[string]string

// ValidationError reports the fields that blocked a step.
type ValidationError struct {
	Step   int
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("diagnosis: step %d has %d invalid field(s)", e.Step, len(e.Fields))
}

// ValidateStep checks only the fields the given form step gates on.
// Step numbering follows the form: 1 job type, 2 challenges, 3 scale and
// free-text questions, 4 contact info.
func (r *Request) ValidateStep(step int) error {
	fields := FieldErrors{}

	switch step {
	case 1:
		if strings.TrimSpace(r.JobType) == "" {
			fields["jobType"] = "職種を選択してください"
		}
	case 2:
		if strings.TrimSpace(r.BusinessChallenge1) == "" {
			fields["BusinessChallenge1"] = "最も時間がかかっている業務課題を入力してください"
		}
	case 3:
		for i, v := range r.Scale {
			if v < 1 || v > 5 {
				fields[scaleKey(i)] = fmt.Sprintf("Q%dに回答してください", i+1)
				break
			}
		}
		for i, v := range r.FreeText {
			if len([]rune(v)) > FreeTextMaxLen {
				fields[freeTextKey(i)] = fmt.Sprintf("Q%dは%d文字以内で入力してください", ScaleQuestionCount+i+1, FreeTextMaxLen)
			}
		}
		if msg := toolListError(r.Yuryo); msg != "" {
			fields["Yuryo"] = msg
		}
		if msg := toolListError(r.Muryo); msg != "" {
			fields["Muryo"] = msg
		}
	case 4:
		if strings.TrimSpace(r.Name) == "" {
			fields["name"] = "名前を入力してください"
		}
		if strings.TrimSpace(r.Company) == "" {
			fields["company"] = "会社名を入力してください"
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Step: step, Fields: fields}
	}
	return nil
}

// Validate runs every step gate; a request that passes is submittable.
func (r *Request) Validate() error {
	merged := FieldErrors{}
	lastStep := 0
	for step := 1; step <= 4; step++ {
		if err := r.ValidateStep(step); err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				for k, v := range verr.Fields {
					merged[k] = v
				}
				lastStep = step
			}
		}
	}
	if len(merged) > 0 {
		return &ValidationError{Step: lastStep, Fields: merged}
	}
	return nil
}

// Inputs builds the workflow API inputs map. Required fields are always
// present (empty string when unanswered); optional fields appear only when
// non-empty, matching what the provider's workflow expects.
func (r *Request) Inputs() map[string]string {
	inputs := map[string]string{
		"JobType":            r.JobType,
		"BusinessChallenge1": r.BusinessChallenge1,
		"name":               r.Name,
		"company":            r.Company,
	}

	for i, v := range r.Scale {
		if v != 0 {
			inputs[scaleKey(i)] = strconv.Itoa(v)
		} else {
			inputs[scaleKey(i)] = ""
		}
	}
	for i, v := range r.FreeText {
		inputs[freeTextKey(i)] = v
	}

	if strings.TrimSpace(r.BusinessChallenge2) != "" {
		inputs["BusinessChallenge2"] = r.BusinessChallenge2
	}
	if strings.TrimSpace(r.BusinessChallenge3) != "" {
		inputs["BusinessChallenge3"] = r.BusinessChallenge3
	}
	if strings.TrimSpace(r.Yuryo) != "" {
		inputs["Yuryo"] = r.Yuryo
	}
	if strings.TrimSpace(r.Muryo) != "" {
		inputs["Muryo"] = r.Muryo
	}
	if strings.TrimSpace(r.Katsuyou) != "" {
		inputs["Katsuyou"] = r.Katsuyou
	}

	return inputs
}

// MarshalJSON emits the flat Q1..Q40 wire shape the form posts.
func (r Request) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"jobType":            r.JobType,
		"BusinessChallenge1": r.BusinessChallenge1,
		"BusinessChallenge2": r.BusinessChallenge2,
		"BusinessChallenge3": r.BusinessChallenge3,
		"name":               r.Name,
		"company":            r.Company,
		"Yuryo":              r.Yuryo,
		"Muryo":              r.Muryo,
		"Katsuyou":           r.Katsuyou,
	}
	for i, v := range r.Scale {
		if v != 0 {
			out[scaleKey(i)] = v
		} else {
			out[scaleKey(i)] = nil
		}
	}
	for i, v := range r.FreeText {
		out[freeTextKey(i)] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the flat Q1..Q40 wire shape. Scale answers may
// arrive as numbers or numeric strings; anything else is left unanswered.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("diagnosis: decode request: %w", err)
	}

	getString := func(key string) string {
		v, ok := raw[key]
		if !ok {
			return ""
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
		return ""
	}

	r.JobType = getString("jobType")
	r.BusinessChallenge1 = getString("BusinessChallenge1")
	r.BusinessChallenge2 = getString("BusinessChallenge2")
	r.BusinessChallenge3 = getString("BusinessChallenge3")
	r.Name = getString("name")
	r.Company = getString("company")
	r.Yuryo = getString("Yuryo")
	r.Muryo = getString("Muryo")
	r.Katsuyou = getString("Katsuyou")

	for i := 0; i < ScaleQuestionCount; i++ {
		v, ok := raw[scaleKey(i)]
		if !ok {
			r.Scale[i] = 0
			continue
		}
		var n int
		if err := json.Unmarshal(v, &n); err == nil {
			r.Scale[i] = n
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if parsed, perr := strconv.Atoi(strings.TrimSpace(s)); perr == nil {
				r.Scale[i] = parsed
				continue
			}
		}
		r.Scale[i] = 0
	}
	for i := 0; i < FreeTextQuestionCount; i++ {
		r.FreeText[i] = getString(freeTextKey(i))
	}
	return nil
}

func scaleKey(i int) string {
	return "Q" + strconv.Itoa(i+1)
}

func freeTextKey(i int) string {
	return "Q" + strconv.Itoa(ScaleQuestionCount+i+1)
}

func toolListError(list string) string {
	if strings.TrimSpace(list) == "" {
		return ""
	}
	n := 0
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	if n > MaxToolSelections {
		return fmt.Sprintf("選択できるツールは%d件までです", MaxToolSelections)
	}
	return ""
}
