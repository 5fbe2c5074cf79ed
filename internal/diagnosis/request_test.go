package diagnosis

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() *Request {
	req := &Request{
		JobType:            "営業",
		BusinessChallenge1: "資料作成に時間がかかる",
		Name:               "田中",
		Company:            "tanaka@example.com",
	}
	for i := range req.Scale {
		req.Scale[i] = 3
	}
	return req
}

func TestValidateStepGates(t *testing.T) {
	req := &Request{}

	for step, field := range map[int]string{
		1: "jobType",
		2: "BusinessChallenge1",
		3: "Q1",
		4: "name",
	} {
		err := req.ValidateStep(step)
		var verr *ValidationError
		require.Truef(t, errors.As(err, &verr), "step %d should fail", step)
		assert.Contains(t, verr.Fields, field)
	}
}

func TestValidateStepScaleRange(t *testing.T) {
	req := validRequest()
	req.Scale[9] = 6
	err := req.ValidateStep(3)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "Q10")
}

func TestValidateStepFreeTextLength(t *testing.T) {
	req := validRequest()
	req.FreeText[0] = strings.Repeat("あ", FreeTextMaxLen+1)
	err := req.ValidateStep(3)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "Q36")
}

func TestValidateStepToolSelections(t *testing.T) {
	req := validRequest()
	req.Yuryo = "ChatGPT, Claude, Gemini, Copilot"
	err := req.ValidateStep(3)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "Yuryo")

	req.Yuryo = "ChatGPT, Claude, Gemini"
	assert.NoError(t, req.ValidateStep(3))
}

func TestValidateAll(t *testing.T) {
	req := validRequest()
	assert.NoError(t, req.Validate())

	req.Company = ""
	err := req.Validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "company")
}

func TestInputs(t *testing.T) {
	req := validRequest()
	req.Scale[0] = 5
	req.BusinessChallenge2 = "会議が多い"
	req.Katsuyou = "議事録作成"

	inputs := req.Inputs()
	assert.Equal(t, "営業", inputs["JobType"])
	assert.Equal(t, "5", inputs["Q1"])
	assert.Equal(t, "3", inputs["Q2"])
	assert.Equal(t, "会議が多い", inputs["BusinessChallenge2"])
	assert.Equal(t, "議事録作成", inputs["Katsuyou"])

	// Optional empties are omitted, required empties are present.
	_, hasChallenge3 := inputs["BusinessChallenge3"]
	assert.False(t, hasChallenge3)
	v, hasQ36 := inputs["Q36"]
	assert.True(t, hasQ36)
	assert.Equal(t, "", v)
}

func TestRequestJSONRoundTrip(t *testing.T) {
	req := validRequest()
	req.Scale[34] = 4
	req.FreeText[4] = "自由記述"

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded Request
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, req.JobType, decoded.JobType)
	assert.Equal(t, 4, decoded.Scale[34])
	assert.Equal(t, "自由記述", decoded.FreeText[4])
}

func TestRequestUnmarshalStringScaleAnswers(t *testing.T) {
	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{"Q1":"4","Q2":null,"Q3":"not a number"}`), &req))
	assert.Equal(t, 4, req.Scale[0])
	assert.Equal(t, 0, req.Scale[1])
	assert.Equal(t, 0, req.Scale[2])
}
