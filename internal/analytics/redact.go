package analytics

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Best-effort guard against accidental PII in demo traffic. Heuristics only;
// the real defence is not collecting PII in the first place.

var (
	emailRe      = regexp.MustCompile(`[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	longDigitsRe = regexp.MustCompile(`\b\d{10,}\b`)
)

var piiMarkers = []string{
	"@gmail", "@yahoo", "@hotmail", "@outlook", "@icloud",
	"phone", "mobile", "address", "postcode", "zip", "dob",
	"passport", "ni number", "ssn", "iban", "sort code", "card number",
}

var blockedMetaKeys = map[string]struct{}{
	"email": {}, "phone": {}, "mobile": {}, "address": {}, "postcode": {},
	"zip": {}, "dob": {}, "passport": {}, "ni": {}, "ninumber": {},
	"ssn": {}, "iban": {}, "sortcode": {}, "cardnumber": {},
}

// containsLikelyPII reports whether the raw meta blob looks like it carries
// personal data.
func containsLikelyPII(meta json.RawMessage) bool {
	if len(meta) == 0 {
		return false
	}
	raw := strings.ToLower(string(meta))
	if emailRe.MatchString(raw) || longDigitsRe.MatchString(raw) {
		return true
	}
	for _, m := range piiMarkers {
		if strings.Contains(raw, m) {
			return true
		}
	}
	return false
}

// redactMeta strips obviously sensitive top-level keys. It does not deep-walk
// nested objects; that cost is not worth it for demo telemetry.
func redactMeta(meta json.RawMessage) json.RawMessage {
	if len(meta) == 0 {
		return json.RawMessage(`{}`)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(meta, &m); err != nil {
		return json.RawMessage(`{}`)
	}
	for k := range m {
		key := strings.ReplaceAll(strings.ToLower(k), " ", "")
		if _, blocked := blockedMetaKeys[key]; blocked {
			delete(m, k)
		}
	}
	out, err := json.Marshal(m)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return out
}
