package diagnosis

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ReportDelimiter separates the sections of a combined workflow output.
const ReportDelimiter = "<hr>"

var (
	driveFileRe   = regexp.MustCompile(`https://drive\.google\.com/file/d/([^/\s]+)`)
	displayNameRe = regexp.MustCompile(`<strong>([^さ]+)さん`)
)

// Report is the parsed presentation view of a result: one chart image and
// three narrative blocks.
type Report struct {
	ImageURL    string `json:"image_url"`
	TypeText    string `json:"type_text"`
	Analysis    string `json:"analysis"`
	Guidance    string `json:"guidance"`
	DisplayName string `json:"display_name"`
}

// ParseReport splits a result's output into the report sections. Combined
// outputs use ReportDelimiter: section 0 is an image reference (Google
// Drive file links are rewritten to the thumbnail endpoint, anything else
// passes through raw), sections 1-3 are the narrative blocks, and the
// user's display name is lifted out of section 2 when present. Results
// without the delimiter fall back to the individual output/text_1/text/
// text_3/name fields.
func ParseReport(res *Result) Report {
	var rep Report
	if res == nil {
		return rep
	}
	outputs := res.Data.Outputs

	combined := extraString(outputs, "output")
	if combined == "" && strings.Contains(outputs.Result, ReportDelimiter) {
		combined = outputs.Result
	}

	if strings.Contains(combined, ReportDelimiter) {
		sections := strings.Split(combined, ReportDelimiter)
		if len(sections) > 0 {
			rep.ImageURL = imageURL(sections[0])
		}
		if len(sections) > 1 {
			rep.TypeText = strings.TrimSpace(sections[1])
		}
		if len(sections) > 2 {
			rep.Analysis = strings.TrimSpace(sections[2])
			if m := displayNameRe.FindStringSubmatch(rep.Analysis); m != nil {
				rep.DisplayName = m[1]
			}
		}
		if len(sections) > 3 {
			rep.Guidance = strings.TrimSpace(sections[3])
		}
		return rep
	}

	rep.ImageURL = imageURL(combined)
	rep.TypeText = extraString(outputs, "text_1")
	rep.Analysis = extraString(outputs, "text")
	rep.Guidance = extraString(outputs, "text_3")
	rep.DisplayName = extraString(outputs, "name")
	return rep
}

// imageURL rewrites Google Drive file links to the direct thumbnail form
// the browser can embed; other references pass through untouched.
func imageURL(section string) string {
	if m := driveFileRe.FindStringSubmatch(section); m != nil {
		return "https://drive.google.com/thumbnail?id=" + m[1] + "&sz=w600"
	}
	return strings.TrimSpace(section)
}

func extraString(o Outputs, key string) string {
	raw, ok := o.Extra[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
