package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveTemplate(t *testing.T) {
	payload := []byte(`{"issue":{"title":"API down","labels":["p0","infra"]},"sender":{"login":"octocat"}}`)
	reserved := map[string]string{
		VarWebhookName: "github-issues",
		VarSource:      "github",
		VarEventName:   "issue_opened",
	}

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"dotted path", "{{issue.title}}", "API down"},
		{"nested array index", "{{issue.labels.0}}", "p0"},
		{"reserved variable", "from {{source}}", "from github"},
		{"reserved wins over payload", "{{event_name}}", "issue_opened"},
		{"missing path resolves empty", "[{{issue.assignee}}]", "[]"},
		{"mixed", "{{webhook_name}}: {{issue.title}} by {{sender.login}}", "github-issues: API down by octocat"},
		{"whitespace inside braces", "{{ issue.title }}", "API down"},
		{"no placeholders", "static text", "static text"},
		{"empty template", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveTemplate(tt.tmpl, payload, reserved)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveTemplatePayloadJSON(t *testing.T) {
	payload := []byte(`{"a":1}`)
	reserved := map[string]string{VarPayloadJSON: string(payload)}

	assert.Equal(t, `{"a":1}`, resolveTemplate("{{payload_json}}", payload, reserved))
}
