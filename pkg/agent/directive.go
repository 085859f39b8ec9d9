package agent

import (
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	// maxDirectiveSize bounds a single action directive to prevent
	// pathological LLM output from exhausting memory.
	maxDirectiveSize = 10 * 1024 * 1024

	argumentsTagName = "arguments"
)

// Compile once at package level.
var directiveRegex = regexp.MustCompile(`(?s)<action>.*?</action>`)

// ampersandEntityRegex matches ampersands that are already part of XML
// entities, to avoid double-escaping them.
var ampersandEntityRegex = regexp.MustCompile(`&(?:amp|lt|gt|quot|apos|#\d+|#x[0-9a-fA-F]+);`)

// Directive is a parsed action directive from an LLM response.
//
// Expected format:
//
//	<action>
//	<tool_name>run_command</tool_name>
//	<arguments>
//	  <command>ls -la</command>
//	</arguments>
//	</action>
type Directive struct {
	XMLName   xml.Name       `xml:"action"`
	ToolName  string         `xml:"tool_name"`
	Arguments ArgumentsBlock `xml:"arguments"`
}

// ArgumentsBlock holds the raw XML of the arguments element.
type ArgumentsBlock struct {
	InnerXML []byte `xml:",innerxml"`
}

// GetArgumentsXML returns the arguments wrapped in <arguments> tags for
// unmarshaling.
func (d *Directive) GetArgumentsXML() []byte {
	const prefix = "<arguments>"
	const suffix = "</arguments>"

	result := make([]byte, 0, len(prefix)+len(d.Arguments.InnerXML)+len(suffix))
	result = append(result, prefix...)
	result = append(result, d.Arguments.InnerXML...)
	result = append(result, suffix...)
	return result
}

// ExtractDirective separates reasoning text from a single action directive.
// If a directive is found it returns the thinking text before it, the parsed
// directive, and any remaining text. If no directive is found the entire
// text is the final answer and the directive is nil.
func ExtractDirective(text string) (thinking string, directive *Directive, remaining string, err error) {
	if len(text) > maxDirectiveSize {
		return text, nil, "", fmt.Errorf("response exceeds maximum directive size of %d bytes", maxDirectiveSize)
	}

	loc := directiveRegex.FindStringIndex(text)
	if loc == nil {
		return text, nil, "", nil
	}

	thinking = strings.TrimSpace(text[:loc[0]])
	directiveXML := text[loc[0]:loc[1]]
	remaining = strings.TrimSpace(text[loc[1]:])

	var d Directive
	if unmarshalErr := unmarshalXMLWithFallback([]byte(directiveXML), &d); unmarshalErr != nil {
		snippet := directiveXML
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		return thinking, nil, remaining, fmt.Errorf("failed to unmarshal action directive: %w\nXML snippet: %s", unmarshalErr, snippet)
	}

	if d.ToolName == "" {
		return thinking, nil, remaining, fmt.Errorf("tool_name is required in action directive")
	}

	return thinking, &d, remaining, nil
}

// HasDirective checks whether the text contains an action directive.
func HasDirective(text string) bool {
	return directiveRegex.MatchString(text)
}

// unmarshalXMLWithFallback attempts to unmarshal XML, falling back to
// escaping bare ampersands if the initial parse fails. LLMs routinely emit
// unescaped & characters.
func unmarshalXMLWithFallback(data []byte, v interface{}) error {
	err := xml.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	return xml.Unmarshal(escapeUnescapedAmpersands(data), v)
}

func escapeUnescapedAmpersands(data []byte) []byte {
	text := string(data)

	entityPositions := make(map[int]bool)
	for _, match := range ampersandEntityRegex.FindAllStringIndex(text, -1) {
		entityPositions[match[0]] = true
	}

	var result strings.Builder
	result.Grow(len(text) + 20)
	for i := 0; i < len(text); i++ {
		if text[i] == '&' && !entityPositions[i] {
			result.WriteString("&amp;")
		} else {
			result.WriteByte(text[i])
		}
	}
	return []byte(result.String())
}

// XMLToMap converts an <arguments> block to a map of its direct children.
// Used to surface parsed arguments on action events.
func XMLToMap(data []byte) (map[string]interface{}, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(data)))
	result := make(map[string]interface{})

	var currentPath []string
	var currentText strings.Builder

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse XML: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == argumentsTagName && len(currentPath) == 0 {
				currentPath = append(currentPath, t.Name.Local)
				continue
			}
			currentPath = append(currentPath, t.Name.Local)
			currentText.Reset()

		case xml.EndElement:
			if len(currentPath) == 0 {
				continue
			}

			elementName := currentPath[len(currentPath)-1]
			currentPath = currentPath[:len(currentPath)-1]

			if elementName == argumentsTagName && len(currentPath) == 0 {
				continue
			}

			if len(currentPath) == 1 && currentPath[0] == argumentsTagName {
				text := strings.TrimSpace(currentText.String())
				if text != "" {
					result[elementName] = text
				}
			}
			currentText.Reset()

		case xml.CharData:
			currentText.Write(t)
		}
	}

	return result, nil
}
