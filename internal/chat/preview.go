package chat

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// previewPolicy strips every tag; previews are plain text.
var previewPolicy = bluemonday.StrictPolicy()

func preview(content string) string {
	text := strings.TrimSpace(html.UnescapeString(previewPolicy.Sanitize(content)))
	if text == "" {
		return noMessagesYet
	}
	return text
}
