package model

import "encoding/json"

// Side-channel input keys. The admission controller augments the learner's
// answers with these before the payload is persisted, so the execution
// backend can reproduce randomized task variants deterministically.
const (
	InputKeyUsername = "@username"
	InputKeyLang     = "@lang"
	InputKeyAttempts = "@attempts"
	InputKeyRandom   = "@random"
	InputKeyState    = "@state"
)

// Input is a submission's input payload: one entry per problem id, plus the
// side-channel keys above. Values are kept raw; the engine never interprets
// answers, it only augments and forwards them.
type Input map[string]json.RawMessage

// SetString stores a plain string value under key.
func (in Input) SetString(key, value string) {
	b, _ := json.Marshal(value)
	in[key] = b
}

// GetString returns the string stored under key, or "" if absent or not a
// JSON string.
func (in Input) GetString(key string) string {
	raw, ok := in[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// FileAnswer is the shape of an uploaded-file answer inside an Input value.
type FileAnswer struct {
	Filename string `json:"filename"`
	Value    []byte `json:"value"`
}

// FileAnswer decodes the value under pid as an uploaded file. The second
// return is false when the value is not a file answer.
func (in Input) FileAnswer(pid string) (FileAnswer, bool) {
	raw, ok := in[pid]
	if !ok {
		return FileAnswer{}, false
	}
	var f FileAnswer
	if err := json.Unmarshal(raw, &f); err != nil || f.Filename == "" {
		return FileAnswer{}, false
	}
	return f, true
}
