package generation

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/WessleyAI/storyboard/engine/domain"
	"github.com/invopop/jsonschema"
)

// Prompt is the text sent to the backend.
type Prompt struct {
	System string
	User   string
}

// PromptOptions shapes the instructions sent with every request.
type PromptOptions struct {
	Language         string
	Articles         int
	ScenesPerArticle int
	// MaxItemRunes truncates each item's content. Zero keeps everything.
	MaxItemRunes int
	Angles       []string
}

// DefaultPromptOptions asks for eight articles of ten scenes each in
// Traditional Chinese.
func DefaultPromptOptions() PromptOptions {
	return PromptOptions{
		Language:         "繁體中文",
		Articles:         8,
		ScenesPerArticle: 10,
		MaxItemRunes:     4000,
		Angles:           []string{"事件概述", "背景分析", "人物觀點", "數據解讀", "社會影響", "國際視角", "未來展望", "懶人包"},
	}
}

// responseArticle is the article shape the backend is asked to return.
type responseArticle struct {
	Title      string   `json:"title" jsonschema:"required" jsonschema_description:"Article headline"`
	Content    string   `json:"content" jsonschema:"required" jsonschema_description:"Article body"`
	Category   string   `json:"category,omitempty" jsonschema_description:"Short topic label"`
	Storyboard []string `json:"storyboard,omitempty" jsonschema_description:"Numbered scene blocks: number, timecode, Image or Video line, Voiceover Text line"`
}

type responseDocument struct {
	MainArticle responseArticle   `json:"main_article" jsonschema:"required"`
	Articles    []responseArticle `json:"articles" jsonschema:"required"`
}

const exampleScene = "1\n00:00:00,000 --> 00:00:12,000\nImage: 記者會現場，發言人站在講台前\nVoiceover Text: '今天上午，官方正式公布了最新的政策方向。'"

const systemPrompt = `你是一位專業的短影音新聞編輯，負責把新聞素材改寫成可直接製作的分鏡稿。
只輸出 JSON，不要加入任何說明文字。`

// Schema returns the JSON schema of the expected response.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{AllowAdditionalProperties: false, DoNotReference: true}
	return json.MarshalIndent(r.Reflect(&responseDocument{}), "", "  ")
}

// BuildPrompt renders the request into a prompt.
func BuildPrompt(req domain.GenerationRequest, opts PromptOptions) (Prompt, error) {
	if len(req.Items) == 0 {
		return Prompt{}, domain.NewValidationError("items", "0", domain.ErrEmptySelection)
	}
	schema, err := Schema()
	if err != nil {
		return Prompt{}, fmt.Errorf("generation: schema: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "請根據以下新聞內容，生成%d篇不同角度的短影音文章與分鏡稿。\n", opts.Articles)
	if req.Metadata.Keyword != "" {
		fmt.Fprintf(&b, "搜尋關鍵字：%s\n", req.Metadata.Keyword)
	}
	b.WriteString("\n<news>\n")
	for i, it := range req.Items {
		body := it.Content
		if body == "" {
			body = it.Snippet
		}
		fmt.Fprintf(&b, "[%d] %s（%s）\n%s\n%s\n\n", i+1, it.Title, it.Source, it.Link, truncateRunes(body, opts.MaxItemRunes))
	}
	b.WriteString("</news>\n\n")

	b.WriteString("<schema>\n")
	b.Write(schema)
	b.WriteString("\n</schema>\n\n")

	b.WriteString("<example>\n")
	b.WriteString(exampleJSON())
	b.WriteString("\n</example>\n\n")

	b.WriteString("規則：\n")
	fmt.Fprintf(&b, "1. 使用%s。\n", opts.Language)
	fmt.Fprintf(&b, "2. 每篇分鏡稿包含%d個段落，時間碼連續。\n", opts.ScenesPerArticle)
	fmt.Fprintf(&b, "3. 共%d篇文章", opts.Articles)
	if len(opts.Angles) > 0 {
		fmt.Fprintf(&b, "，角度依序為：%s", strings.Join(opts.Angles, "、"))
	}
	b.WriteString("。\n")
	b.WriteString("4. 輸出必須是合法的 JSON，且只輸出 JSON。\n")

	return Prompt{System: systemPrompt, User: b.String()}, nil
}

func exampleJSON() string {
	doc := responseDocument{
		MainArticle: responseArticle{Title: "主標題", Content: "主文內容", Category: "政治"},
		Articles: []responseArticle{{
			Title:      "文章標題",
			Content:    "文章內容",
			Storyboard: []string{exampleScene},
		}},
	}
	out, _ := json.MarshalIndent(doc, "", "  ")
	return string(out)
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
