package substack

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SubstackTransformer converts Markdown into Substack's ProseMirror document JSON
type SubstackTransformer struct {
	imagePattern   *regexp.Regexp
	orderedPattern *regexp.Regexp
	inlinePattern  *regexp.Regexp
}

// SubstackDocument represents Substack's document structure
type SubstackDocument struct {
	Type    string         `json:"type"`
	Content []SubstackNode `json:"content"`
}

type SubstackNode struct {
	Type    string         `json:"type"`
	Content []SubstackNode `json:"content,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Marks   []SubstackMark `json:"marks,omitempty"`
	Text    string         `json:"text,omitempty"`
}

type SubstackMark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

func NewSubstackTransformer() *SubstackTransformer {
	return &SubstackTransformer{
		imagePattern:   regexp.MustCompile(`^!\[([^\]]*)\]\(([^)\s]+)\)$`),
		orderedPattern: regexp.MustCompile(`^(\d+)[.)]\s+(.*)$`),
		// link, bold, italic, inline code
		inlinePattern: regexp.MustCompile("\\[([^\\]]+)\\]\\(([^)\\s]+)\\)|\\*\\*([^*]+)\\*\\*|\\*([^*]+)\\*|_([^_]+)_|`([^`]+)`"),
	}
}

// Transform returns the serialized document for the draft_body field.
func (t *SubstackTransformer) Transform(markdown string) (string, error) {
	document := t.Convert(markdown)

	jsonBytes, err := json.Marshal(document)
	if err != nil {
		return "", fmt.Errorf("failed to serialize Substack document: %w", err)
	}

	return string(jsonBytes), nil
}

// Convert parses block-level Markdown line by line.
func (t *SubstackTransformer) Convert(markdown string) SubstackDocument {
	lines := strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n")
	nodes := []SubstackNode{}

	var paragraph []string
	flushParagraph := func() {
		if len(paragraph) > 0 {
			nodes = append(nodes, SubstackNode{
				Type:    "paragraph",
				Content: t.inline(strings.Join(paragraph, " ")),
			})
			paragraph = nil
		}
	}

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])

		switch {
		case line == "":
			flushParagraph()

		case strings.HasPrefix(line, "```"):
			flushParagraph()
			language := strings.TrimSpace(strings.TrimPrefix(line, "```"))
			var code []string
			for i+1 < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[i+1]), "```") {
				i++
				code = append(code, lines[i])
			}
			i++ // closing fence
			node := SubstackNode{
				Type:  "code_block",
				Attrs: map[string]any{"language": language},
			}
			if text := strings.Join(code, "\n"); text != "" {
				node.Content = []SubstackNode{{Type: "text", Text: text}}
			}
			nodes = append(nodes, node)

		case line == "---" || line == "***" || line == "___":
			flushParagraph()
			nodes = append(nodes, SubstackNode{Type: "horizontal_rule"})

		case strings.HasPrefix(line, "#"):
			level := len(line) - len(strings.TrimLeft(line, "#"))
			text := strings.TrimSpace(line[level:])
			if level > 6 || text == "" || line[level] != ' ' {
				paragraph = append(paragraph, line)
				continue
			}
			flushParagraph()
			nodes = append(nodes, SubstackNode{
				Type:    "heading",
				Attrs:   map[string]any{"level": level},
				Content: t.inline(text),
			})

		case strings.HasPrefix(line, ">"):
			flushParagraph()
			var quote []string
			for {
				quote = append(quote, strings.TrimSpace(strings.TrimPrefix(line, ">")))
				if i+1 >= len(lines) || !strings.HasPrefix(strings.TrimSpace(lines[i+1]), ">") {
					break
				}
				i++
				line = strings.TrimSpace(lines[i])
			}
			nodes = append(nodes, SubstackNode{
				Type: "blockquote",
				Content: []SubstackNode{{
					Type:    "paragraph",
					Content: t.inline(strings.Join(quote, " ")),
				}},
			})

		case isBullet(line):
			flushParagraph()
			var items []SubstackNode
			for {
				items = append(items, t.listItem(strings.TrimSpace(line[2:])))
				if i+1 >= len(lines) || !isBullet(strings.TrimSpace(lines[i+1])) {
					break
				}
				i++
				line = strings.TrimSpace(lines[i])
			}
			nodes = append(nodes, SubstackNode{Type: "bullet_list", Content: items})

		case t.orderedPattern.MatchString(line):
			flushParagraph()
			match := t.orderedPattern.FindStringSubmatch(line)
			start, _ := strconv.Atoi(match[1])
			var items []SubstackNode
			for {
				items = append(items, t.listItem(match[2]))
				if i+1 >= len(lines) {
					break
				}
				next := t.orderedPattern.FindStringSubmatch(strings.TrimSpace(lines[i+1]))
				if next == nil {
					break
				}
				i++
				match = next
			}
			nodes = append(nodes, SubstackNode{
				Type:    "ordered_list",
				Attrs:   map[string]any{"start": start, "order": start},
				Content: items,
			})

		case t.imagePattern.MatchString(line):
			flushParagraph()
			match := t.imagePattern.FindStringSubmatch(line)
			nodes = append(nodes, imageNode(match[2], match[1]))

		default:
			paragraph = append(paragraph, line)
		}
	}
	flushParagraph()

	return SubstackDocument{Type: "doc", Content: nodes}
}

// ExtractImages lists standalone image URLs in document order
func (t *SubstackTransformer) ExtractImages(markdown string) []string {
	var urls []string
	for _, line := range strings.Split(markdown, "\n") {
		if match := t.imagePattern.FindStringSubmatch(strings.TrimSpace(line)); match != nil {
			urls = append(urls, match[2])
		}
	}
	return urls
}

func (t *SubstackTransformer) listItem(text string) SubstackNode {
	return SubstackNode{
		Type: "list_item",
		Content: []SubstackNode{{
			Type:    "paragraph",
			Content: t.inline(text),
		}},
	}
}

// inline splits text into text nodes carrying marks. Marks do not nest.
func (t *SubstackTransformer) inline(text string) []SubstackNode {
	var nodes []SubstackNode
	last := 0

	for _, loc := range t.inlinePattern.FindAllStringSubmatchIndex(text, -1) {
		if loc[0] > last {
			nodes = append(nodes, SubstackNode{Type: "text", Text: text[last:loc[0]]})
		}

		group := func(n int) string { return text[loc[2*n]:loc[2*n+1]] }
		switch {
		case loc[2] >= 0:
			nodes = append(nodes, SubstackNode{
				Type: "text",
				Text: group(1),
				Marks: []SubstackMark{{
					Type: "link",
					Attrs: map[string]any{
						"href":   group(2),
						"target": "_blank",
						"rel":    "noopener noreferrer nofollow",
						"class":  nil,
					},
				}},
			})
		case loc[6] >= 0:
			nodes = append(nodes, marked(group(3), "strong"))
		case loc[8] >= 0:
			nodes = append(nodes, marked(group(4), "em"))
		case loc[10] >= 0:
			nodes = append(nodes, marked(group(5), "em"))
		case loc[12] >= 0:
			nodes = append(nodes, marked(group(6), "code"))
		}
		last = loc[1]
	}

	if last < len(text) {
		nodes = append(nodes, SubstackNode{Type: "text", Text: text[last:]})
	}

	return nodes
}

func marked(text, mark string) SubstackNode {
	return SubstackNode{Type: "text", Text: text, Marks: []SubstackMark{{Type: mark}}}
}

func isBullet(line string) bool {
	return len(line) > 2 && (line[0] == '-' || line[0] == '*' || line[0] == '+') && line[1] == ' '
}

func imageNode(src, alt string) SubstackNode {
	return SubstackNode{
		Type: "captionedImage",
		Content: []SubstackNode{{
			Type: "image2",
			Attrs: map[string]any{
				"src":              src,
				"srcNoWatermark":   nil,
				"fullscreen":       nil,
				"imageSize":        nil,
				"height":           nil,
				"width":            nil,
				"resizeWidth":      nil,
				"bytes":            nil,
				"alt":              alt,
				"title":            nil,
				"type":             nil,
				"href":             nil,
				"belowTheFold":     false,
				"topImage":         false,
				"internalRedirect": "",
				"isProcessing":     false,
				"align":            nil,
				"offset":           false,
			},
		}},
	}
}
