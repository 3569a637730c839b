package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/advisord/advisord/internal/plugin"
)

// dataURLRe matches inline base64 image payloads. These are huge and must
// never be fed back into the chat history as plain text.
var dataURLRe = regexp.MustCompile(`data:image/[a-zA-Z0-9.+-]+;base64,[A-Za-z0-9+/=_-]+`)

// stripDataURLs replaces inline base64 image payloads in tool output with
// a short placeholder so the history stays within model context limits.
func stripDataURLs(s string) string {
	if !strings.Contains(s, ";base64,") {
		return s
	}
	return dataURLRe.ReplaceAllString(s, "[inline image removed]")
}

// DescribeImage runs an auxiliary vision pass over a data-URL image and
// returns a text description for use as a tool result. The channel's
// active provider is preferred; any registered provider is acceptable.
func (i *Interface) DescribeImage(ctx context.Context, dataURL, toolName string) (string, error) {
	llm := i.primaryLLM()
	if llm == nil {
		return "", fmt.Errorf("no llm provider registered")
	}
	if !strings.HasPrefix(dataURL, "data:image/") {
		return "", fmt.Errorf("not an image data url")
	}

	messages := []plugin.ChatMessage{
		{
			Role: "user",
			Parts: []plugin.ContentPart{
				{
					Type: "text",
					Text: fmt.Sprintf("Describe this image in detail. The description will be used as the output of the %s tool, so include any numbers, labels, and chart features visible.", toolName),
				},
				{Type: "image_url", ImageURL: dataURL},
			},
		},
	}
	description, err := llm.Complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("image description failed: %w", err)
	}
	return description, nil
}
