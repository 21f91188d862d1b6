package llm

import (
	"errors"
	"testing"
)

func TestExtractJSONWholeText(t *testing.T) {
	v, err := ExtractJSON(`{"ok":true}`)
	if err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["ok"] != true {
		t.Errorf("got %#v, want {ok:true}", v)
	}
}

func TestExtractJSONFencedBlock(t *testing.T) {
	text := "Here is the plan:\n```json\n{\"step\":1}\n```\nDone."
	v, err := ExtractJSON(text)
	if err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	m := v.(map[string]any)
	if m["step"] != float64(1) {
		t.Errorf("step = %v, want 1", m["step"])
	}
}

func TestExtractJSONBalancedSubstring(t *testing.T) {
	text := `sure thing, {"result": "ok", "nested": {"a": 1}} trailing text`
	v, err := ExtractJSON(text)
	if err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	m := v.(map[string]any)
	if m["result"] != "ok" {
		t.Errorf("result = %v, want ok", m["result"])
	}
}

func TestExtractJSONBalancedSubstringIgnoresBracesInStrings(t *testing.T) {
	text := `{"text": "a { b } c", "n": 2}`
	v, err := ExtractJSON(text)
	if err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	m := v.(map[string]any)
	if m["text"] != "a { b } c" {
		t.Errorf("text = %v", m["text"])
	}
}

func TestExtractJSONFailure(t *testing.T) {
	_, err := ExtractJSON("no json here at all")
	if err == nil {
		t.Fatal("expected error")
	}
	var failErr *JsonExtractFailedError
	if !errors.As(err, &failErr) {
		t.Fatalf("error is not *JsonExtractFailedError: %v", err)
	}
	if failErr.Raw != "no json here at all" {
		t.Errorf("Raw = %q", failErr.Raw)
	}
}
