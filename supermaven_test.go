package supermaven

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEditRequestJSONKeys(t *testing.T) {
	req := EditRequest{RequestID: 42, SessionID: "nvim-1", Path: "main.go", Content: "fmt.", CursorOffset: 4}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}

	s := string(data)
	for _, key := range []string{`"request_id":42`, `"session_id":"nvim-1"`, `"cursor_offset":4`} {
		if !strings.Contains(s, key) {
			t.Errorf("expected %s in JSON, got %s", key, s)
		}
	}

	var decoded EditRequest
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded != req {
		t.Errorf("round trip mismatch: got %+v", decoded)
	}
}

func TestSuggestionResponseOmitsEmptyFields(t *testing.T) {
	resp := SuggestionResponse{RequestID: 1, Text: ""}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}

	s := string(data)
	if !strings.Contains(s, `"text":""`) {
		t.Errorf("expected text key even when empty, got %s", s)
	}
	for _, key := range []string{`"state_id"`, `"deleted"`, `"dedent"`, `"error"`} {
		if strings.Contains(s, key) {
			t.Errorf("expected %s to be omitted, got %s", key, s)
		}
	}
}

func TestSuggestionResponseStateIDIsString(t *testing.T) {
	resp := SuggestionResponse{RequestID: 3, StateID: 17, Text: "Println()"}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"state_id":"17"`) {
		t.Errorf("expected state_id as string, got %s", data)
	}

	var decoded SuggestionResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.StateID != 17 {
		t.Errorf("expected StateID 17, got %s", decoded.StateID)
	}
}

func TestSuggestionResponseErrorIncluded(t *testing.T) {
	resp := SuggestionResponse{
		RequestID: 5,
		Error: &Error{
			Code:    "superseded",
			Message: "superseded by a newer edit",
		},
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if !strings.Contains(s, `"error"`) {
		t.Error("expected error key in JSON")
	}
	if !strings.Contains(s, `"superseded"`) {
		t.Error("expected superseded code")
	}
}

func TestConfigResponseOmitsNilConfig(t *testing.T) {
	data, err := json.Marshal(ConfigResponse{Warnings: []string{"w"}})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"config"`) {
		t.Errorf("expected config to be omitted, got %s", data)
	}
}
