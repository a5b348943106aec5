package chat

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/ai"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/common"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/extract"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	digestAttachments = 5
	digestEntryRunes  = 600
	digestTotalRunes  = 6000
	noTextPlaceholder = "(متنی استخراج نشد)"

	extractConcurrency = 3
)

const (
	msgEmptyRequest  = "پیام، تصویر یا فایلی ارسال نشده است."
	msgMissingChatID = "شناسه گفتگو الزامی است."
)

type InlineImage struct {
	Base64   string `json:"base64"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

type InlineFile struct {
	Base64   string `json:"base64"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
}

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	ChatID      string        `json:"chat_id" binding:"required"`
	Message     string        `json:"message"`
	Images      []InlineImage `json:"images"`
	Attachments []InlineFile  `json:"attachments"`
	Prompt      string        `json:"prompt"`
}

// ErrMissingChatID rejects a turn without a chat id.
var ErrMissingChatID = common.Validation(msgMissingChatID)

// Prepared is everything later stages need about the current turn.
type Prepared struct {
	Session           *Session
	SessionChatID     string
	UserMessageID     uint64
	History           []ai.Message
	UserPlainText     string
	AttachmentContext string
	Summary           *ConversationSummary
}

type Preparer struct {
	repo      *Repo
	files     storage.FileStore
	extractor extract.Extractor
	maxUpload int64
	log       *zap.Logger
}

func NewPreparer(repo *Repo, files storage.FileStore, extractor extract.Extractor, maxUpload int64, log *zap.Logger) *Preparer {
	if extractor == nil {
		extractor = extract.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Preparer{repo: repo, files: files, extractor: extractor, maxUpload: maxUpload, log: log}
}

type decodedImage struct {
	url  string
	mime string
	data []byte
}

type decodedFile struct {
	url  string
	name string
	mime string
	data []byte
}

// Prepare validates and persists the user's turn, then loads its context.
func (p *Preparer) Prepare(ctx context.Context, userID uint64, req ChatRequest) (*Prepared, error) {
	chatID := strings.TrimSpace(req.ChatID)
	if chatID == "" {
		return nil, ErrMissingChatID
	}
	text := strings.TrimSpace(req.Message)

	images, err := p.decodeImages(req.Images)
	if err != nil {
		return nil, err
	}
	files, err := p.decodeFiles(req.Attachments)
	if err != nil {
		return nil, err
	}
	if text == "" && len(images) == 0 && len(files) == 0 {
		return nil, common.Validation(msgEmptyRequest)
	}

	sess, err := p.repo.UpsertSession(ctx, userID, chatID)
	if err != nil {
		return nil, common.Internal(fmt.Errorf("upsert session: %w", err))
	}

	parts := make([]ContentPart, 0, 1+len(images)+len(files))
	if text != "" {
		parts = append(parts, TextPart(text))
	}
	for _, img := range images {
		url := img.url
		if img.data != nil {
			stored, err := p.files.Save(ctx, userID, "", img.mime, img.data)
			if err != nil {
				return nil, common.Internal(fmt.Errorf("store image: %w", err))
			}
			url = stored.URL
		}
		parts = append(parts, ImagePart(url))
	}

	var fresh []*Attachment
	for _, f := range files {
		url := f.url
		if f.data != nil {
			stored, err := p.files.Save(ctx, userID, f.name, f.mime, f.data)
			if err != nil {
				return nil, common.Internal(fmt.Errorf("store attachment: %w", err))
			}
			url = stored.URL
			att := &Attachment{
				UserID:    userID,
				ChatID:    chatID,
				FileName:  f.name,
				MimeType:  f.mime,
				FileURL:   url,
				SizeBytes: stored.Size,
			}
			if err := p.repo.InsertAttachment(ctx, att); err != nil {
				return nil, common.Internal(fmt.Errorf("insert attachment: %w", err))
			}
			fresh = append(fresh, att)
		}
		parts = append(parts, FilePart(url, f.name, f.mime))
	}
	p.extractAll(ctx, fresh)

	content, err := EncodeParts(parts)
	if err != nil {
		return nil, common.Internal(err)
	}
	userMsg := &Message{UserID: userID, ChatID: chatID, Role: RoleUser, Content: content}
	if err := p.repo.InsertMessage(ctx, userMsg); err != nil {
		return nil, common.Internal(fmt.Errorf("insert user message: %w", err))
	}

	sum, err := p.repo.GetSummary(ctx, userID, chatID)
	if err != nil {
		return nil, common.Internal(fmt.Errorf("load summary: %w", err))
	}
	var after uint64
	if sum != nil {
		after = sum.CoveredThroughMessageID
	}
	prior, err := p.repo.ListMessagesAfter(ctx, userID, chatID, after)
	if err != nil {
		return nil, common.Internal(fmt.Errorf("load history: %w", err))
	}
	history := make([]ai.Message, 0, len(prior))
	for _, m := range prior {
		if m.ID == userMsg.ID {
			continue
		}
		history = append(history, ai.Message{Role: m.Role, Content: PlainText(DecodeParts(m.Content))})
	}

	recent, err := p.repo.ListRecentAttachmentsDesc(ctx, userID, chatID, digestAttachments)
	if err != nil {
		return nil, common.Internal(fmt.Errorf("load attachments: %w", err))
	}

	return &Prepared{
		Session:           sess,
		SessionChatID:     chatID,
		UserMessageID:     userMsg.ID,
		History:           history,
		UserPlainText:     PlainText(parts),
		AttachmentContext: BuildAttachmentDigest(recent),
		Summary:           sum,
	}, nil
}

// extractAll runs extraction for new attachments. Failures only leave the
// summary empty.
func (p *Preparer) extractAll(ctx context.Context, atts []*Attachment) {
	if len(atts) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(extractConcurrency)
	for _, att := range atts {
		g.Go(func() error {
			text, err := p.extractor.Extract(ctx, att.FileURL, att.MimeType)
			text = strings.TrimSpace(text)
			if err != nil || text == "" {
				p.log.Info("attachment extraction produced no text",
					zap.Uint64("attachment_id", att.ID), zap.String("file", att.FileName), zap.Error(err))
				return nil
			}
			text = extract.Truncate(text, extract.MaxSummaryRunes)
			if err := p.repo.UpdateAttachmentSummary(ctx, att.ID, text); err != nil {
				p.log.Warn("attachment summary write failed", zap.Uint64("attachment_id", att.ID), zap.Error(err))
				return nil
			}
			att.Summary = &text
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Preparer) decodeImages(in []InlineImage) ([]decodedImage, error) {
	out := make([]decodedImage, 0, len(in))
	for i, img := range in {
		mime := strings.TrimSpace(img.MimeType)
		switch {
		case strings.TrimSpace(img.Base64) != "":
			data, dataMime, err := p.decodePayload(img.Base64)
			if err != nil {
				return nil, common.Validation(fmt.Sprintf("تصویر %d: %s", i+1, err.Error()))
			}
			if mime == "" {
				mime = dataMime
			}
			if !strings.HasPrefix(strings.ToLower(mime), "image/") {
				return nil, common.Validation(fmt.Sprintf("تصویر %d: نوع فایل باید تصویر باشد.", i+1))
			}
			out = append(out, decodedImage{mime: mime, data: data})
		case strings.TrimSpace(img.URL) != "":
			out = append(out, decodedImage{url: strings.TrimSpace(img.URL), mime: mime})
		default:
			return nil, common.Validation(fmt.Sprintf("تصویر %d: داده یا آدرس ارسال نشده است.", i+1))
		}
	}
	return out, nil
}

func (p *Preparer) decodeFiles(in []InlineFile) ([]decodedFile, error) {
	out := make([]decodedFile, 0, len(in))
	for i, f := range in {
		mime := strings.TrimSpace(f.MimeType)
		name := strings.TrimSpace(f.Filename)
		if name == "" {
			name = fmt.Sprintf("file-%d", i+1)
		}
		switch {
		case strings.TrimSpace(f.Base64) != "":
			data, dataMime, err := p.decodePayload(f.Base64)
			if err != nil {
				return nil, common.Validation(fmt.Sprintf("فایل %s: %s", name, err.Error()))
			}
			if mime == "" {
				mime = dataMime
			}
			if mime == "" {
				mime = "application/octet-stream"
			}
			out = append(out, decodedFile{name: name, mime: mime, data: data})
		case strings.TrimSpace(f.URL) != "":
			out = append(out, decodedFile{url: strings.TrimSpace(f.URL), name: name, mime: mime})
		default:
			return nil, common.Validation(fmt.Sprintf("فایل %s: داده یا آدرس ارسال نشده است.", name))
		}
	}
	return out, nil
}

// decodePayload accepts raw base64 or a data URI and returns the bytes and
// the mime type named by the URI, if any.
func (p *Preparer) decodePayload(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	var mime string
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", fmt.Errorf("data uri نامعتبر است")
		}
		mime, _, _ = strings.Cut(meta, ";")
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, "", fmt.Errorf("base64 نامعتبر است")
	}
	if p.maxUpload > 0 && int64(len(data)) > p.maxUpload {
		return nil, "", fmt.Errorf("حجم فایل بیش از حد مجاز است")
	}
	return data, mime, nil
}

// BuildAttachmentDigest renders recent (newest first, as loaded) in
// chronological order. Each entry is capped, and entries that no longer
// fit the total budget are left out whole.
func BuildAttachmentDigest(recent []Attachment) string {
	if len(recent) == 0 {
		return ""
	}
	var b strings.Builder
	used := 0
	for i := len(recent) - 1; i >= 0; i-- {
		a := recent[i]
		summary := noTextPlaceholder
		if a.Summary != nil && strings.TrimSpace(*a.Summary) != "" {
			summary = strings.TrimSpace(*a.Summary)
		}
		entry := extract.Truncate(fmt.Sprintf("- %s (%s): %s", a.FileName, a.MimeType, summary), digestEntryRunes)
		cost := utf8.RuneCountInString(entry)
		if used > 0 {
			cost++ // newline
		}
		if used+cost > digestTotalRunes {
			continue
		}
		if used > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(entry)
		used += cost
	}
	return b.String()
}
