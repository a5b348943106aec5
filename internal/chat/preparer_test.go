package chat

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/common"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/storage"
	"go.uber.org/zap"
)

func newTestPreparer(t *testing.T) (*Preparer, *testEnv) {
	t.Helper()
	env := newTestEnv(t, envOptions{})
	files, err := storage.NewLocalStore(t.TempDir(), "http://files.test")
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	return NewPreparer(env.repo, files, nil, 64, zap.NewNop()), env
}

func TestPrepare_RejectsBadPayloadsBeforePersisting(t *testing.T) {
	p, env := newTestPreparer(t)
	ctx := context.Background()
	png := base64.StdEncoding.EncodeToString([]byte("\x89PNG"))

	cases := map[string]ChatRequest{
		"missing chat id":  {Message: "سلام"},
		"bad base64":       {ChatID: "c1", Images: []InlineImage{{Base64: "***", MimeType: "image/png"}}},
		"image not image":  {ChatID: "c1", Images: []InlineImage{{Base64: png, MimeType: "application/pdf"}}},
		"neither data/url": {ChatID: "c1", Attachments: []InlineFile{{Filename: "a.pdf", MimeType: "application/pdf"}}},
		"too large":        {ChatID: "c1", Attachments: []InlineFile{{Base64: base64.StdEncoding.EncodeToString(make([]byte, 65)), Filename: "big.bin"}}},
		"empty":            {ChatID: "c1"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.Prepare(ctx, 1, req)
			if common.HTTPStatus(err) != 400 {
				t.Fatalf("expected 400, got %v", err)
			}
		})
	}
	if n := env.count(t, &Session{}, ""); n != 0 {
		t.Fatalf("expected no sessions, got %d", n)
	}
	if n := env.count(t, &Message{}, ""); n != 0 {
		t.Fatalf("expected no messages, got %d", n)
	}
}

func TestPrepare_OrdersPartsAndStoresInlineData(t *testing.T) {
	p, env := newTestPreparer(t)
	png := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("\x89PNG"))

	prep, err := p.Prepare(context.Background(), 9, ChatRequest{
		ChatID:  "c1",
		Message: "  این مدارک من است  ",
		Images: []InlineImage{
			{Base64: png},
			{URL: "https://cdn.example.com/a.jpg", MimeType: "image/jpeg"},
		},
		Attachments: []InlineFile{{Base64: base64.StdEncoding.EncodeToString([]byte("hello")), MimeType: "text/plain", Filename: "note.txt"}},
	})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if len(prep.History) != 0 {
		t.Fatalf("expected empty history, got %+v", prep.History)
	}
	want := "این مدارک من است\n[تصویر]\n[تصویر]\n[فایل: note.txt]"
	if prep.UserPlainText != want {
		t.Fatalf("plain text = %q, want %q", prep.UserPlainText, want)
	}

	var m Message
	if err := env.db.First(&m, prep.UserMessageID).Error; err != nil {
		t.Fatalf("user message: %v", err)
	}
	parts := DecodeParts(m.Content)
	if len(parts) != 4 {
		t.Fatalf("expected 4 parts, got %d", len(parts))
	}
	if parts[0].Type != PartText || parts[1].Type != PartImage || parts[2].Type != PartImage || parts[3].Type != PartFile {
		t.Fatalf("unexpected part order: %+v", parts)
	}
	if !strings.HasPrefix(parts[1].ImageURL.URL, "http://files.test/uploads/9/") || !strings.HasSuffix(parts[1].ImageURL.URL, ".png") {
		t.Fatalf("inline image not stored: %q", parts[1].ImageURL.URL)
	}
	if parts[2].ImageURL.URL != "https://cdn.example.com/a.jpg" {
		t.Fatalf("url image must pass through: %q", parts[2].ImageURL.URL)
	}
	if parts[3].File.Name != "note.txt" || parts[3].File.MimeType != "text/plain" {
		t.Fatalf("unexpected file part: %+v", parts[3].File)
	}
	if !strings.Contains(prep.AttachmentContext, "- note.txt (text/plain): "+noTextPlaceholder) {
		t.Fatalf("unexpected digest: %q", prep.AttachmentContext)
	}
}

func TestBuildAttachmentDigest_Caps(t *testing.T) {
	long := strings.Repeat("ق", 2000)
	recent := make([]Attachment, 0, 5)
	// newest first, as loaded
	for i := 5; i >= 1; i-- {
		s := long
		recent = append(recent, Attachment{FileName: "f" + string(rune('0'+i)) + ".pdf", MimeType: "application/pdf", Summary: &s})
	}

	digest := BuildAttachmentDigest(recent)
	lines := strings.Split(digest, "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(lines))
	}
	for i, line := range lines {
		if n := utf8.RuneCountInString(line); n > digestEntryRunes {
			t.Fatalf("entry %d has %d runes", i, n)
		}
	}
	if !strings.HasPrefix(lines[0], "- f1.pdf") || !strings.HasPrefix(lines[4], "- f5.pdf") {
		t.Fatalf("entries must run oldest to newest: %q / %q", lines[0], lines[4])
	}
	if n := utf8.RuneCountInString(digest); n > digestTotalRunes {
		t.Fatalf("digest has %d runes", n)
	}
}

func TestBuildAttachmentDigest_MissingSummary(t *testing.T) {
	empty := "   "
	got := BuildAttachmentDigest([]Attachment{
		{FileName: "b.pdf", MimeType: "application/pdf", Summary: &empty},
		{FileName: "a.pdf", MimeType: "application/pdf"},
	})
	want := "- a.pdf (application/pdf): " + noTextPlaceholder + "\n- b.pdf (application/pdf): " + noTextPlaceholder
	if got != want {
		t.Fatalf("digest = %q, want %q", got, want)
	}
	if BuildAttachmentDigest(nil) != "" {
		t.Fatalf("no attachments must give an empty digest")
	}
}

func TestContentParts(t *testing.T) {
	if _, err := EncodeParts(nil); err != ErrEmptyContent {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	if _, err := EncodeParts([]ContentPart{{Type: PartImage}}); err == nil {
		t.Fatalf("image part without url must be rejected")
	}

	parts := DecodeParts("متن قدیمی بدون ساختار")
	if len(parts) != 1 || parts[0].Type != PartText {
		t.Fatalf("legacy content must decode as text: %+v", parts)
	}
	got := PlainText([]ContentPart{TextPart("متن"), ImagePart("u"), FilePart("u", "doc.pdf", "application/pdf")})
	if got != "متن\n[تصویر]\n[فایل: doc.pdf]" {
		t.Fatalf("plain text = %q", got)
	}
}
