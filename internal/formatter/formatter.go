// Package formatter turns a client send payload into the canonical message
// record. It does no I/O.
package formatter

import (
	"channels/backend/internal/config"
	"channels/backend/internal/models"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/microcosm-cc/bluemonday"
)

var (
	linkOnly = regexp.MustCompile(`^https?://\S+$`)
	policy   = bluemonday.StrictPolicy()
)

// Sender identifies the author of a message.
type Sender struct {
	ID   string
	Name string
}

// Overrides carries server-decided fields. Zero values mean "use the default".
type Overrides struct {
	ID         string
	Status     models.MessageStatus
	IsGroup    bool
	ReceiverID string
	Now        time.Time
}

// Format validates p and builds a message ready for broadcast and persistence.
func Format(p *models.SendPayload, sender Sender, o Overrides) (*models.Message, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: empty payload", models.ErrInvalidArgument)
	}
	if sender.ID == "" {
		return nil, fmt.Errorf("%w: sender is required", models.ErrInvalidArgument)
	}
	channelID := firstNonEmpty(p.ChannelID, p.GroupID, p.SessionID)
	if channelID == "" {
		return nil, fmt.Errorf("%w: channelId is required", models.ErrInvalidArgument)
	}

	now := o.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	var content models.MessageContent
	if p.Content != nil {
		content = *p.Content
	}
	text := p.Message
	if text == "" {
		text = content.Text
	}
	text = truncate(strings.TrimSpace(text), config.MaxTextLength)
	content.Text = text
	if content.Emoji == "" {
		content.Emoji = p.Emoji
	}
	if content.ReplyTo == "" {
		content.ReplyTo = p.ReplyTo
	}
	if content.Reaction == "" {
		content.Reaction = p.Reaction
	}
	if content.Poll == nil {
		content.Poll = p.Poll
	}
	if content.Location == nil {
		content.Location = p.Location
	}
	if content.Contact == nil {
		content.Contact = p.Contact
	}

	attachments := NormalizeAttachments(p.Attachments, now)

	id := o.ID
	if id == "" {
		id = uuid.NewString()
	}
	for i := range attachments {
		attachments[i].MessageID = id
	}
	status := o.Status
	if status == "" {
		status = models.StatusQueued
	}

	var receiver *string
	if r := firstNonEmpty(o.ReceiverID, p.ReceiverID); r != "" && !o.IsGroup {
		receiver = &r
	}

	msg := &models.Message{
		ID:              id,
		ClientMessageID: p.ClientMessageID,
		TempID:          p.TempID,
		ChannelID:       channelID,
		SenderID:        sender.ID,
		SenderName:      sender.Name,
		ReceiverID:      receiver,
		IsGroup:         o.IsGroup,
		MessageType:     DetectType(p, content, attachments),
		Content:         content,
		Attachments:     attachments,
		Metadata:        stampMetadata(p, now),
		Status:          status,
		IsRead:          false,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	msg.Message = PlainText(msg)
	return msg, nil
}

// DetectType applies the classification order: attachments, then content
// flags, then a bare link, then the explicit type, then text.
func DetectType(p *models.SendPayload, c models.MessageContent, attachments []models.Attachment) models.MessageType {
	if len(attachments) > 0 {
		mime := attachments[0].MimeType
		switch {
		case strings.HasPrefix(mime, "image/"):
			return models.TypeImage
		case strings.HasPrefix(mime, "video/"):
			return models.TypeVideo
		case strings.HasPrefix(mime, "audio/"):
			return models.TypeAudio
		default:
			return models.TypeFile
		}
	}
	switch {
	case c.Emoji != "":
		return models.TypeEmoji
	case c.ReplyTo != "":
		return models.TypeReply
	case c.Reaction != "":
		return models.TypeReaction
	case p.System || c.System != "":
		return models.TypeSystem
	case c.Poll != nil:
		return models.TypePoll
	case c.Location != nil:
		return models.TypeLocation
	case c.Contact != nil:
		return models.TypeContact
	}
	if linkOnly.MatchString(c.Text) {
		return models.TypeLink
	}
	if p.MessageType.Valid() {
		return p.MessageType
	}
	return models.TypeText
}

// NormalizeAttachments assigns ids, positions, mime types and filenames.
func NormalizeAttachments(in []models.Attachment, now time.Time) []models.Attachment {
	if len(in) == 0 {
		return []models.Attachment{}
	}
	out := make([]models.Attachment, len(in))
	for i, a := range in {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.Position = i
		if a.Filename == "" {
			a.Filename = filenameFromURL(a.URL)
		}
		if a.MimeType == "" {
			a.MimeType = guessMime(a.Filename, a.URL)
		}
		if a.Meta == nil {
			a.Meta = map[string]any{}
		}
		a.CreatedAt = now
		out[i] = a
	}
	return out
}

// PlainText is the searchable projection of a message.
func PlainText(m *models.Message) string {
	switch {
	case m.Content.Text != "":
		return m.Content.Text
	case m.Content.Emoji != "":
		return m.Content.Emoji
	case m.Content.Reaction != "":
		return m.Content.Reaction
	case len(m.Attachments) > 0:
		return m.Attachments[0].Filename
	}
	return ""
}

// SanitizeName strips markup from a user or group name and caps its length.
func SanitizeName(s string) string {
	return truncate(strings.TrimSpace(policy.Sanitize(s)), config.MaxNameLength)
}

func stampMetadata(p *models.SendPayload, now time.Time) map[string]any {
	md := make(map[string]any, len(p.Metadata)+4)
	for k, v := range p.Metadata {
		md[k] = v
	}
	setDefault(md, "timestamp", now.Format(time.RFC3339Nano))
	setDefault(md, "version", config.MetadataVersion)
	setDefault(md, "device", firstNonEmpty(p.Device, config.UnknownDevice))
	setDefault(md, "client", firstNonEmpty(p.Client, config.UnknownDevice))
	return md
}

func setDefault(md map[string]any, key string, v any) {
	if _, ok := md[key]; !ok {
		md[key] = v
	}
}

func filenameFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

func guessMime(names ...string) string {
	for _, n := range names {
		ext := strings.TrimPrefix(strings.ToLower(path.Ext(stripQuery(n))), ".")
		if ext == "" {
			continue
		}
		if t := filetype.GetType(ext); t != filetype.Unknown {
			return t.MIME.Value
		}
	}
	return config.DefaultMimeType
}

func stripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
