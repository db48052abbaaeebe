// Package langgraph is a client for the upstream graph-execution engine.
package langgraph

import (
	"encoding/json"
	"time"
)

// TagsKey is the reserved metadata key carrying assistant tags.
// The upstream API has no native tags field, so tags ride inside
// metadata and are projected into a first-class column locally.
const TagsKey = "_x_oap_tags"

// Assistant is the upstream assistant record.
type Assistant struct {
	AssistantID string          `json:"assistant_id"`
	GraphID     string          `json:"graph_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Context     json.RawMessage `json:"context,omitempty"`
	Version     int             `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Tags extracts the reserved tags key from assistant metadata.
func (a *Assistant) Tags() []string {
	if len(a.Metadata) == 0 {
		return nil
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(a.Metadata, &meta); err != nil {
		return nil
	}
	raw, ok := meta[TagsKey]
	if !ok {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil
	}
	return tags
}

// MetaString returns a string-valued metadata field, or "".
func (a *Assistant) MetaString(key string) string {
	if len(a.Metadata) == 0 {
		return ""
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(a.Metadata, &meta); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(meta[key], &s); err != nil {
		return ""
	}
	return s
}

// IsTemplate reports whether the assistant is a graph template
// (system-created rows carry graph-level schemas and are hidden
// from user-facing listings).
func (a *Assistant) IsTemplate() bool {
	return a.MetaString("created_by") == "system"
}

// WithTags returns metadata with the reserved tags key set.
// A nil tags slice removes the key.
func WithTags(metadata json.RawMessage, tags []string) (json.RawMessage, error) {
	meta := map[string]json.RawMessage{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &meta); err != nil {
			return nil, err
		}
	}
	if tags == nil {
		delete(meta, TagsKey)
	} else {
		raw, err := json.Marshal(tags)
		if err != nil {
			return nil, err
		}
		meta[TagsKey] = raw
	}
	return json.Marshal(meta)
}

// Schemas is the upstream schema bundle for one assistant.
type Schemas struct {
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	ConfigSchema json.RawMessage `json:"config_schema,omitempty"`
	StateSchema  json.RawMessage `json:"state_schema,omitempty"`
}

// SearchRequest pages the upstream assistant search.
type SearchRequest struct {
	GraphID   string `json:"graph_id,omitempty"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
	SortBy    string `json:"sort_by,omitempty"`
	SortOrder string `json:"sort_order,omitempty"`
}

// UpdatePayload is the PATCH body for an assistant. Nil fields are
// omitted and left unchanged upstream.
type UpdatePayload struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Context     json.RawMessage `json:"context,omitempty"`
}

// ThreadState is one snapshot from the thread history endpoint.
type ThreadState struct {
	Values struct {
		Messages []ThreadMessage `json:"messages"`
	} `json:"values"`
	CreatedAt time.Time `json:"created_at"`
}

// ThreadMessage is a single conversation message. Content is either a
// plain string or a list of typed blocks.
type ThreadMessage struct {
	Type    string          `json:"type"` // "human", "ai", "tool", "system"
	Content json.RawMessage `json:"content"`
}

// TextContent flattens the message content to plain text. Block lists
// contribute only their text blocks.
func (m *ThreadMessage) TextContent() string {
	if len(m.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return ""
	}
	var out string
	for _, b := range blocks {
		if b.Type != "text" || b.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += b.Text
	}
	return out
}
