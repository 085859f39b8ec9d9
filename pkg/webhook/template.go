package webhook

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// placeholderRegex matches {{dotted.path}} substitution sites. Paths may be
// reserved variable names or gjson lookups into the raw payload.
var placeholderRegex = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Reserved template variables available alongside payload paths.
const (
	VarPayloadJSON = "payload_json"
	VarWebhookName = "webhook_name"
	VarSource      = "source"
	VarReceivedAt  = "received_at"
	VarEventName   = "event_name"
)

// resolveTemplate substitutes every {{path}} in tmpl. Reserved variables
// win over payload lookups; missing payload paths resolve to the empty
// string rather than failing the call.
func resolveTemplate(tmpl string, payload []byte, reserved map[string]string) string {
	if tmpl == "" {
		return ""
	}

	return placeholderRegex.ReplaceAllStringFunc(tmpl, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-2])
		if v, ok := reserved[path]; ok {
			return v
		}
		return gjson.GetBytes(payload, path).String()
	})
}
