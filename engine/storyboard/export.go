package storyboard

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
)

// RenderMarkdown renders an article as a markdown shooting script.
func RenderMarkdown(a Article) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", a.Title)
	if a.Content != "" {
		b.WriteString(a.Content)
		b.WriteString("\n\n")
	}
	for _, r := range Rows(a.Scenes) {
		fmt.Fprintf(&b, "## %s `%s`\n\n", r.Paragraph, r.Duration)
		fmt.Fprintf(&b, "- 畫面: %s\n", r.ImageDescription)
		if r.ImageURL != "" {
			fmt.Fprintf(&b, "- 圖片: <%s>\n", r.ImageURL)
		}
		fmt.Fprintf(&b, "- 旁白: %s (%s)\n\n", r.Voiceover, r.WordLabel)
	}
	if total, err := TotalDuration(a.Scenes); err == nil && len(a.Scenes) > 0 {
		fmt.Fprintf(&b, "總長: %s\n", total)
	}
	return b.String()
}

// RenderHTML renders the markdown script of an article as HTML.
func RenderHTML(a Article) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(RenderMarkdown(a)), &buf); err != nil {
		return "", fmt.Errorf("storyboard: render html: %w", err)
	}
	return buf.String(), nil
}
