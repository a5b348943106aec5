package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image_url"
	PartFile  PartType = "file"
)

const (
	imagePlaceholder = "[تصویر]"
	filePlaceholder  = "[فایل: %s]"
)

var ErrEmptyContent = errors.New("message content has no parts")

type ImageRef struct {
	URL string `json:"url"`
}

type FileRef struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// ContentPart is one element of a stored message. Exactly one of
// Text, ImageURL or File is set, according to Type.
type ContentPart struct {
	Type     PartType  `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageRef `json:"image_url,omitempty"`
	File     *FileRef  `json:"file,omitempty"`
}

func TextPart(s string) ContentPart { return ContentPart{Type: PartText, Text: s} }

func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartImage, ImageURL: &ImageRef{URL: url}}
}

func FilePart(url, name, mime string) ContentPart {
	return ContentPart{Type: PartFile, File: &FileRef{URL: url, Name: name, MimeType: mime}}
}

func (p ContentPart) validate() error {
	switch p.Type {
	case PartText:
		if p.ImageURL != nil || p.File != nil {
			return fmt.Errorf("text part carries a reference")
		}
	case PartImage:
		if p.ImageURL == nil || p.ImageURL.URL == "" || p.File != nil {
			return fmt.Errorf("image part without url")
		}
	case PartFile:
		if p.File == nil || p.File.URL == "" || p.ImageURL != nil {
			return fmt.Errorf("file part without url")
		}
	default:
		return fmt.Errorf("unknown part type %q", p.Type)
	}
	return nil
}

// EncodeParts serializes parts for Message.Content.
func EncodeParts(parts []ContentPart) (string, error) {
	if len(parts) == 0 {
		return "", ErrEmptyContent
	}
	for _, p := range parts {
		if err := p.validate(); err != nil {
			return "", err
		}
	}
	b, err := json.Marshal(parts)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeParts reads Message.Content. Content that is not a JSON part list
// is treated as a single text part.
func DecodeParts(content string) []ContentPart {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "[") {
		var parts []ContentPart
		if err := json.Unmarshal([]byte(trimmed), &parts); err == nil && len(parts) > 0 {
			return parts
		}
	}
	return []ContentPart{TextPart(content)}
}

// PlainText projects parts to text: images become a placeholder and
// files their named placeholder.
func PlainText(parts []ContentPart) string {
	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case PartText:
			if s := strings.TrimSpace(p.Text); s != "" {
				lines = append(lines, s)
			}
		case PartImage:
			lines = append(lines, imagePlaceholder)
		case PartFile:
			name := ""
			if p.File != nil {
				name = p.File.Name
			}
			lines = append(lines, fmt.Sprintf(filePlaceholder, name))
		}
	}
	return strings.Join(lines, "\n")
}
