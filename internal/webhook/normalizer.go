// Package webhook normalizes inbound messaging-platform payloads.
//
// The upstream gateway posts two shapes: a flat {event, phone, message} form
// and a nested messages.upsert form carrying a WhatsApp message object whose
// content lives in one of several sub-fields (plain text, extended text, media
// with caption, audio, document, or control messages). Both are reduced to a
// models.CanonicalMessage; anything that is not a real user message comes back
// with Processable=false so the HTTP boundary can still acknowledge it.
package webhook

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.mau.fi/whatsmeow/types"

	"github.com/zaprelay/zaprelay/internal/models"
)

// EventMessagesUpsert is the gateway event carrying inbound user messages.
const EventMessagesUpsert = "messages.upsert"

// DefaultSenderName is used when the payload carries no push name.
const DefaultSenderName = "Cliente"

// Media tags prepended to non-plain-text content, matching the gateway locale.
const (
	tagImage       = "[imagem]"
	tagAudio       = "[áudio]"
	tagDocument    = "[documento]"
	tagUnsupported = "[conteúdo não suportado]"
)

// envelope is the top-level webhook body. Message is raw because the flat
// shape carries a plain string where the nested shape carries an object.
type envelope struct {
	Event   string          `json:"event"`
	Phone   string          `json:"phone"`
	Sender  string          `json:"sender"`
	Message json.RawMessage `json:"message"`
	Data    *eventData      `json:"data"`
}

type eventData struct {
	Messages *upsertMessage `json:"messages"`
}

// upsertMessage is one entry of a messages.upsert event. The gateway has
// shipped the JID both directly on the entry and nested under key, so both
// spellings are accepted.
type upsertMessage struct {
	RemoteJID string          `json:"remoteJid"`
	Key       *messageKey     `json:"key"`
	PushName  string          `json:"pushName"`
	Message   *messageContent `json:"message"`
}

type messageKey struct {
	RemoteJID   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	Participant string `json:"participant"`
}

// messageContent is the union of known WhatsApp content variants. Exactly one
// field is expected to be set; resolve picks the first match in fixed order.
type messageContent struct {
	Conversation                 string           `json:"conversation"`
	ExtendedTextMessage          *extendedText    `json:"extendedTextMessage"`
	ImageMessage                 *imageMessage    `json:"imageMessage"`
	AudioMessage                 *audioMessage    `json:"audioMessage"`
	DocumentMessage              *documentMessage `json:"documentMessage"`
	SenderKeyDistributionMessage json.RawMessage  `json:"senderKeyDistributionMessage"`
	ProtocolMessage              json.RawMessage  `json:"protocolMessage"`
}

type extendedText struct {
	Text string `json:"text"`
}

type imageMessage struct {
	Caption string `json:"caption"`
}

type audioMessage struct {
	Seconds int `json:"seconds"`
}

type documentMessage struct {
	Title    string `json:"title"`
	FileName string `json:"fileName"`
}

// contentKind tags the resolved content variant.
type contentKind int

const (
	contentNone contentKind = iota
	contentText
	contentExtendedText
	contentImage
	contentAudio
	contentDocument
	contentControl
	contentUnsupported
)

// resolve matches the content union in priority order and returns the
// renderable text for the matched variant.
func (m *messageContent) resolve() (contentKind, string) {
	switch {
	case m == nil:
		return contentNone, ""
	case m.SenderKeyDistributionMessage != nil || m.ProtocolMessage != nil:
		return contentControl, ""
	case m.Conversation != "":
		return contentText, m.Conversation
	case m.ExtendedTextMessage != nil && m.ExtendedTextMessage.Text != "":
		return contentExtendedText, m.ExtendedTextMessage.Text
	case m.ImageMessage != nil:
		if m.ImageMessage.Caption != "" {
			return contentImage, tagImage + " " + m.ImageMessage.Caption
		}
		return contentImage, tagImage
	case m.AudioMessage != nil:
		return contentAudio, tagAudio
	case m.DocumentMessage != nil:
		if title := m.DocumentMessage.Title; title != "" {
			return contentDocument, tagDocument + " " + title
		}
		if name := m.DocumentMessage.FileName; name != "" {
			return contentDocument, tagDocument + " " + name
		}
		return contentDocument, tagDocument
	default:
		return contentUnsupported, tagUnsupported
	}
}

// Normalize parses a raw webhook body into a canonical message.
//
// A JSON-level parse failure is returned as an error (the boundary answers
// 400). Every recognized-but-unusable payload — control messages, self-sent
// messages, unknown events, missing sender or text — yields a canonical
// message with Processable=false and no error.
func Normalize(raw []byte) (models.CanonicalMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.CanonicalMessage{}, fmt.Errorf("unmarshal webhook body: %w", err)
	}

	// Flat shape: {event, phone, message} with message as a plain string.
	if msg, ok := env.flatMessage(); ok {
		return msg, nil
	}

	if env.Data == nil || env.Data.Messages == nil {
		slog.Debug("webhook.Normalize: no message container in payload", "event", env.Event)
		return models.CanonicalMessage{}, nil
	}
	if env.Event != "" && env.Event != EventMessagesUpsert {
		slog.Debug("webhook.Normalize: ignoring event", "event", env.Event)
		return models.CanonicalMessage{}, nil
	}

	entry := env.Data.Messages
	if entry.Key != nil && entry.Key.FromMe {
		slog.Debug("webhook.Normalize: ignoring self-sent message")
		return models.CanonicalMessage{}, nil
	}

	kind, text := entry.Message.resolve()
	if kind == contentNone || kind == contentControl {
		slog.Debug("webhook.Normalize: no renderable content", "control", kind == contentControl)
		return models.CanonicalMessage{}, nil
	}

	sender, isGroup := resolveSender(entry)
	if sender == "" || text == "" {
		slog.Debug("webhook.Normalize: missing sender or text", "sender_set", sender != "")
		return models.CanonicalMessage{}, nil
	}

	name := entry.PushName
	if name == "" {
		name = DefaultSenderName
	}

	return models.CanonicalMessage{
		Sender:      sender,
		SenderName:  name,
		Text:        text,
		IsGroup:     isGroup,
		Processable: true,
	}, nil
}

// flatMessage attempts the {event, phone, message} shape. The message field
// must decode to a non-empty string for the shape to match.
func (e *envelope) flatMessage() (models.CanonicalMessage, bool) {
	sender := e.Phone
	if sender == "" {
		sender = e.Sender
	}
	if sender == "" || len(e.Message) == 0 {
		return models.CanonicalMessage{}, false
	}
	var text string
	if err := json.Unmarshal(e.Message, &text); err != nil || text == "" {
		return models.CanonicalMessage{}, false
	}
	return models.CanonicalMessage{
		Sender:      stripJID(sender),
		SenderName:  DefaultSenderName,
		Text:        text,
		Processable: true,
	}, true
}

// resolveSender derives the sender identifier from the message JID. Group
// chats substitute the participant JID when present; a group without a known
// participant keeps the raw group JID, which downstream delivery treats as
// unaddressable.
func resolveSender(entry *upsertMessage) (sender string, isGroup bool) {
	remote := entry.RemoteJID
	if remote == "" && entry.Key != nil {
		remote = entry.Key.RemoteJID
	}
	if remote == "" {
		return "", false
	}

	jid, err := types.ParseJID(remote)
	if err != nil {
		// Not a JID at all; treat the raw value as the identifier.
		return remote, false
	}

	if jid.Server == types.GroupServer {
		if entry.Key != nil && entry.Key.Participant != "" {
			return stripJID(entry.Key.Participant), true
		}
		return remote, true
	}
	if jid.User != "" {
		return jid.User, false
	}
	return remote, false
}

// stripJID drops a domain-style suffix from a channel identifier, leaving the
// phone-style user part.
func stripJID(id string) string {
	if at := strings.IndexByte(id, '@'); at >= 0 {
		return id[:at]
	}
	return id
}
