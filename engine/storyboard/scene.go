package storyboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Visual element types.
const (
	VisualImage = "image"
	VisualVideo = "video"
)

// Defaults substituted into structured scenes.
const (
	DefaultTimeCode         = "00:00:00,000 --> 00:00:05,000"
	DefaultImageDescription = "No description"
	DefaultWordLabel        = "0字"
)

const (
	tagImage     = "Image:"
	tagVideo     = "Video:"
	tagVoiceover = "Voiceover Text:"
)

// quoteChars are stripped from both ends of voiceover text.
const quoteChars = "\"'“”‘’「」"

var blankLine = regexp.MustCompile(`\n[ \t\r]*\n`)

// VisualElement is one image or video cue of a scene.
type VisualElement struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	URL     string `json:"url,omitempty"`
}

// Scene is the canonical storyboard beat. SceneNumber is its 1-based position.
type Scene struct {
	SceneNumber    int             `json:"sceneNumber"`
	TimeCode       string          `json:"timeCode"`
	VisualElements []VisualElement `json:"visualElements"`
	VoiceoverText  string          `json:"voiceoverText"`
}

// Duration returns the length of the scene's timecode range.
func (s Scene) Duration() (time.Duration, error) { return Duration(s.TimeCode) }

// Row is the editable display form of a scene, as stored by the editor.
type Row struct {
	Paragraph        string `json:"paragraph"`
	Duration         string `json:"duration"`
	ImageURL         string `json:"imageUrl,omitempty"`
	ImageDescription string `json:"imageDescription"`
	Voiceover        string `json:"voiceover"`
	WordLabel        string `json:"avatarCount"`
}

// Row keys, English first. Rows saved by the table editor use the Chinese
// column names.
var (
	keysParagraph   = []string{"paragraph", "段落"}
	keysDuration    = []string{"duration", "秒數"}
	keysImageURL    = []string{"imageUrl", "畫面"}
	keysDescription = []string{"imageDescription", "畫面描述"}
	keysVoiceover   = []string{"voiceover", "旁白"}
)

// ParseRow decodes a structured scene object, substituting defaults for
// missing fields. Values may be strings or numbers; empty, zero, false and
// null count as missing. index is the 0-based position of the row.
func ParseRow(raw json.RawMessage, index int) (Row, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Row{}, fmt.Errorf("storyboard: parse row %d: %w", index, err)
	}
	row := Row{
		Paragraph:        fmt.Sprintf("%02d", index+1),
		Duration:         DefaultTimeCode,
		ImageURL:         firstText(fields, keysImageURL...),
		ImageDescription: DefaultImageDescription,
		Voiceover:        strings.ReplaceAll(firstText(fields, keysVoiceover...), "'", ""),
		WordLabel:        wordLabel(fields["avatarCount"]),
	}
	if v := firstText(fields, keysParagraph...); v != "" {
		row.Paragraph = v
	}
	if v := firstText(fields, keysDuration...); v != "" {
		row.Duration = v
	}
	if v := firstText(fields, keysDescription...); v != "" {
		row.ImageDescription = v
	}
	if row.WordLabel == DefaultWordLabel {
		row.WordLabel = wordLabel(fields["字數"])
	}
	return row, nil
}

// firstText returns the first non-empty value among keys.
func firstText(fields map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if v := scalarText(fields[k]); v != "" {
			return v
		}
	}
	return ""
}

// scalarText renders a JSON string, number or true as text. Everything
// else, including 0 and false, is empty.
func scalarText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case 't':
		if string(raw) == "true" {
			return "true"
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			if f, err := n.Float64(); err == nil && f != 0 {
				return n.String()
			}
		}
	}
	return ""
}

// wordLabel renders avatarCount, given as number or string, as "N字".
func wordLabel(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return DefaultWordLabel
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		switch {
		case s == "":
			return DefaultWordLabel
		case strings.HasSuffix(s, "字"):
			return s
		default:
			return s + "字"
		}
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil && n.String() != "0" {
		return n.String() + "字"
	}
	return DefaultWordLabel
}

// Scene converts the row into a canonical scene with the given number.
func (r Row) Scene(number int) Scene {
	return Scene{
		SceneNumber: number,
		TimeCode:    r.Duration,
		VisualElements: []VisualElement{{
			Type:    VisualImage,
			Content: r.ImageDescription,
			URL:     r.ImageURL,
		}},
		VoiceoverText: stripQuotes(r.Voiceover),
	}
}

// RowFromScene builds the display row of a scene.
func RowFromScene(s Scene) Row {
	row := Row{
		Paragraph:        fmt.Sprintf("%02d", s.SceneNumber),
		Duration:         s.TimeCode,
		ImageDescription: DefaultImageDescription,
		Voiceover:        stripQuotes(s.VoiceoverText),
	}
	if row.Duration == "" {
		row.Duration = DefaultTimeCode
	}
	if len(s.VisualElements) > 0 {
		if c := s.VisualElements[0].Content; c != "" {
			row.ImageDescription = c
		}
		row.ImageURL = s.VisualElements[0].URL
	}
	row.WordLabel = fmt.Sprintf("%d字", utf8.RuneCountInString(row.Voiceover))
	return row
}

// Rows projects scenes to display rows.
func Rows(scenes []Scene) []Row {
	rows := make([]Row, len(scenes))
	for i, s := range scenes {
		rows[i] = RowFromScene(s)
	}
	return rows
}

// ParseSceneBlock parses a freeform scene block. The second line is the
// timecode; later lines may be tagged Image:, Video: or Voiceover Text:.
func ParseSceneBlock(block string, number int) Scene {
	lines := strings.Split(strings.TrimSpace(block), "\n")
	scene := Scene{SceneNumber: number, VisualElements: []VisualElement{}}
	if len(lines) > 1 {
		scene.TimeCode = strings.TrimSpace(lines[1])
	}

	var haveVisual, haveVoice bool
	for _, line := range lines[min(2, len(lines)):] {
		line = strings.TrimSpace(line)
		switch {
		case !haveVisual && (strings.HasPrefix(line, tagImage) || strings.HasPrefix(line, tagVideo)):
			typ := VisualImage
			if strings.HasPrefix(line, tagVideo) {
				typ = VisualVideo
			}
			_, content, _ := strings.Cut(line, ":")
			scene.VisualElements = append(scene.VisualElements, VisualElement{
				Type:    typ,
				Content: strings.TrimSpace(content),
			})
			haveVisual = true
		case !haveVoice && strings.HasPrefix(line, tagVoiceover):
			scene.VoiceoverText = stripQuotes(strings.TrimSpace(strings.TrimPrefix(line, tagVoiceover)))
			haveVoice = true
		}
	}
	return scene
}

// SplitBlocks splits freeform storyboard text into scene blocks on blank lines.
func SplitBlocks(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, b := range blankLine.Split(text, -1) {
		if strings.TrimSpace(b) != "" {
			out = append(out, b)
		}
	}
	return out
}

// NormalizeScenes converts a raw storyboard value into canonical scenes.
// Accepted forms are a freeform string, an array mixing freeform strings and
// structured objects, or a single structured object. Anything else is logged
// and yields an empty list.
func NormalizeScenes(raw json.RawMessage, logger *slog.Logger) []Scene {
	if logger == nil {
		logger = slog.Default()
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return []Scene{}
	}

	var scenes []Scene
	switch raw[0] {
	case '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			logger.Warn("storyboard: undecodable scene text", "err", err)
			return []Scene{}
		}
		for _, b := range SplitBlocks(text) {
			scenes = append(scenes, ParseSceneBlock(b, 0))
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			logger.Warn("storyboard: undecodable scene list", "err", err)
			return []Scene{}
		}
		for i, item := range items {
			if s, ok := sceneFromItem(item, i, logger); ok {
				scenes = append(scenes, s)
			}
		}
	case '{':
		if s, ok := sceneFromItem(raw, 0, logger); ok {
			scenes = append(scenes, s)
		}
	default:
		logger.Warn("storyboard: unrecognised scene format", "kind", string(raw[:1]))
		return []Scene{}
	}

	for i := range scenes {
		scenes[i].SceneNumber = i + 1
		if scenes[i].TimeCode == "" {
			continue
		}
		if _, err := DurationMillis(scenes[i].TimeCode); err != nil {
			logger.Debug("storyboard: scene timecode not parseable", "scene", i+1, "err", err)
		}
	}
	if scenes == nil {
		return []Scene{}
	}
	return scenes
}

func sceneFromItem(item json.RawMessage, index int, logger *slog.Logger) (Scene, bool) {
	item = bytes.TrimSpace(item)
	if len(item) == 0 {
		return Scene{}, false
	}
	switch item[0] {
	case '"':
		var block string
		if err := json.Unmarshal(item, &block); err != nil {
			logger.Warn("storyboard: undecodable scene block", "index", index, "err", err)
			return Scene{}, false
		}
		return ParseSceneBlock(block, index+1), true
	case '{':
		row, err := ParseRow(item, index)
		if err != nil {
			logger.Warn("storyboard: undecodable structured scene", "index", index, "err", err)
			return Scene{}, false
		}
		return row.Scene(index + 1), true
	default:
		logger.Warn("storyboard: skipping scene of unknown form", "index", index)
		return Scene{}, false
	}
}

func stripQuotes(s string) string {
	return strings.TrimSpace(strings.Trim(s, quoteChars))
}
