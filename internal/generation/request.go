package generation

import (
	"fmt"
	"unicode/utf8"

	"melodia/internal/apperr"
)

const (
	MaxTitleLength        = 80
	MaxSimplePromptLength = 400
	MaxCustomPromptLength = 5000
	MaxStyleLength        = 1000

	DefaultModel = "V5"
)

var supportedModels = map[string]bool{
	"V3_5":     true,
	"V4":       true,
	"V4_5":     true,
	"V4_5PLUS": true,
	"V5":       true,
}

// Request describes one song. In custom mode Prompt carries the lyrics.
type Request struct {
	CustomMode   bool   `json:"customMode"`
	Instrumental bool   `json:"instrumental"`
	Prompt       string `json:"prompt"`
	Model        string `json:"model,omitempty"`
	NegativeTags string `json:"negativeTags,omitempty"`
	Style        string `json:"style,omitempty"`
	Title        string `json:"title,omitempty"`
}

// Normalize applies defaults and drops lyrics from instrumental custom songs.
func (r Request) Normalize() Request {
	if r.Model == "" {
		r.Model = DefaultModel
	}
	if r.CustomMode && r.Instrumental {
		r.Prompt = ""
	}
	return r
}

// Validate reports every violated constraint at once.
func (r Request) Validate() error {
	var details []string
	add := func(field, format string, args ...any) {
		details = append(details, field+": "+fmt.Sprintf(format, args...))
	}

	if n := utf8.RuneCountInString(r.Title); n > MaxTitleLength {
		add("title", "must be at most %d characters, got %d", MaxTitleLength, n)
	}

	if n := utf8.RuneCountInString(r.Style); n > MaxStyleLength {
		add("style", "must be at most %d characters, got %d", MaxStyleLength, n)
	}

	promptLen := utf8.RuneCountInString(r.Prompt)
	if r.CustomMode {
		if promptLen > MaxCustomPromptLength {
			add("prompt", "must be at most %d characters in custom mode, got %d", MaxCustomPromptLength, promptLen)
		}
		if !r.Instrumental && promptLen == 0 {
			add("prompt", "lyrics are required in custom mode unless instrumental")
		}
	} else {
		if promptLen > MaxSimplePromptLength {
			add("prompt", "must be at most %d characters in simple mode, got %d", MaxSimplePromptLength, promptLen)
		}
		if promptLen == 0 {
			add("prompt", "is required")
		}
		if r.Style != "" {
			add("style", "is only allowed in custom mode")
		}
	}

	if r.Model != "" && !supportedModels[r.Model] {
		add("model", "unsupported model %q", r.Model)
	}

	if len(details) > 0 {
		return apperr.Validation("invalid generation request", details)
	}
	return nil
}
