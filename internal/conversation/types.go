// Package conversation holds the canonical message model and the
// normalization of intercepted listing payloads into it.
package conversation

import "strings"

// UnknownConversation is the scoping sentinel used when a payload's
// conversation id cannot be recovered.
const UnknownConversation = "unknown"

// Role classifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleUnknown   Role = "unknown"
)

// ParseRole maps a raw role string onto the known set.
func ParseRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user":
		return RoleUser
	case "assistant":
		return RoleAssistant
	case "tool", "system_tool", "function":
		return RoleTool
	default:
		return RoleUnknown
	}
}

// ContentItem is one typed block within a message. The listing payload is
// heterogeneous; unknown types pass through untouched so extraction can
// ignore them without normalization having to know every shape.
type ContentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	FileID   string `json:"file_id,omitempty"`
}

// IsText reports whether the item carries display text.
func (c ContentItem) IsText() bool {
	return c.Text != "" && c.ImageURL == "" && c.FileID == ""
}

// IsImage reports whether the item carries an image, by URL or file
// reference.
func (c ContentItem) IsImage() bool {
	return c.ImageURL != "" || c.FileID != ""
}

// HTTPLocator returns the item's image URL when it is a direct http(s)
// locator, else "".
func (c ContentItem) HTTPLocator() string {
	if strings.HasPrefix(c.ImageURL, "http://") || strings.HasPrefix(c.ImageURL, "https://") {
		return c.ImageURL
	}
	return ""
}

// Message is the canonical form of one conversation item.
type Message struct {
	ID             string
	Role           Role
	Content        []ContentItem
	ResponseID     string
	ConversationID string
}

// Text concatenates the message's text blocks in order.
func (m *Message) Text() string {
	var b strings.Builder
	for _, c := range m.Content {
		if c.IsText() {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// ImageOnly reports whether the message carries image content and no text.
func (m *Message) ImageOnly() bool {
	hasImage := false
	for _, c := range m.Content {
		if c.IsText() {
			return false
		}
		if c.IsImage() {
			hasImage = true
		}
	}
	return hasImage
}
