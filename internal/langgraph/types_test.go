package langgraph

import (
	"encoding/json"
	"testing"
)

func TestAssistantTags(t *testing.T) {
	a := &Assistant{Metadata: json.RawMessage(`{"_x_oap_tags":["prod","beta"],"created_by":"u1"}`)}
	tags := a.Tags()
	if len(tags) != 2 || tags[0] != "prod" || tags[1] != "beta" {
		t.Errorf("Tags() = %v", tags)
	}

	none := &Assistant{Metadata: json.RawMessage(`{"created_by":"u1"}`)}
	if got := none.Tags(); got != nil {
		t.Errorf("Tags() = %v, want nil", got)
	}

	empty := &Assistant{}
	if got := empty.Tags(); got != nil {
		t.Errorf("Tags() on empty metadata = %v, want nil", got)
	}
}

func TestIsTemplate(t *testing.T) {
	tmpl := &Assistant{Metadata: json.RawMessage(`{"created_by":"system"}`)}
	if !tmpl.IsTemplate() {
		t.Error("system-created assistant should be a template")
	}
	user := &Assistant{Metadata: json.RawMessage(`{"created_by":"user-7"}`)}
	if user.IsTemplate() {
		t.Error("user-created assistant is not a template")
	}
}

func TestWithTags(t *testing.T) {
	meta, err := WithTags(json.RawMessage(`{"owner":"u1"}`), []string{"x"})
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(meta, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["owner"] != "u1" {
		t.Errorf("existing keys must survive: %v", decoded)
	}
	if _, ok := decoded[TagsKey]; !ok {
		t.Errorf("tags key missing: %v", decoded)
	}

	// nil tags removes the key
	meta, err = WithTags(meta, nil)
	if err != nil {
		t.Fatal(err)
	}
	decoded = nil
	if err := json.Unmarshal(meta, &decoded); err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded[TagsKey]; ok {
		t.Errorf("tags key should be removed: %v", decoded)
	}
}

func TestTextContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"plain string", `"hello there"`, "hello there"},
		{"block list", `[{"type":"text","text":"first"},{"type":"image_url"},{"type":"text","text":"second"}]`, "first\nsecond"},
		{"empty blocks", `[]`, ""},
		{"unparseable", `{"weird":1}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &ThreadMessage{Type: "human", Content: json.RawMessage(tt.content)}
			if got := m.TextContent(); got != tt.want {
				t.Errorf("TextContent() = %q, want %q", got, tt.want)
			}
		})
	}
}
