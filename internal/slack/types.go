package slack

// Message is a message object as returned by conversations.replies.
type Message struct {
	Type       string      `json:"type,omitempty"`
	TS         string      `json:"ts"`
	ThreadTS   string      `json:"thread_ts,omitempty"`
	Text       string      `json:"text"`
	User       string      `json:"user,omitempty"`
	Subtype    string      `json:"subtype,omitempty"`
	BotID      string      `json:"bot_id,omitempty"`
	BotProfile *BotProfile `json:"bot_profile,omitempty"`
}

// BotProfile identifies a message posted by an app.
type BotProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User is the subset of users.info Kyle reads.
type User struct {
	ID       string      `json:"id"`
	Name     string      `json:"name,omitempty"`
	RealName string      `json:"real_name,omitempty"`
	Profile  UserProfile `json:"profile"`
}

// UserProfile holds the user's chosen names.
type UserProfile struct {
	DisplayName string `json:"display_name,omitempty"`
	RealName    string `json:"real_name,omitempty"`
}

// DisplayName picks the friendliest available name, falling back to
// the user id.
func (u *User) DisplayName() string {
	for _, name := range []string{u.Profile.DisplayName, u.Profile.RealName, u.RealName, u.Name} {
		if name != "" {
			return name
		}
	}
	return u.ID
}

// MessageEvent is a "message" event from the Events API.
type MessageEvent struct {
	Type           string      `json:"type"`
	Subtype        string      `json:"subtype,omitempty"`
	StreamingState string      `json:"streaming_state,omitempty"`
	Text           string      `json:"text"`
	User           string      `json:"user"`
	Channel        string      `json:"channel"`
	ChannelType    string      `json:"channel_type"`
	Team           string      `json:"team,omitempty"`
	TS             string      `json:"ts"`
	ThreadTS       string      `json:"thread_ts,omitempty"`
	BotProfile     *BotProfile `json:"bot_profile,omitempty"`
}

// Thread returns the thread the event belongs to: its thread_ts, or its
// own ts for a top-level message.
func (e *MessageEvent) Thread() string {
	if e.ThreadTS != "" {
		return e.ThreadTS
	}
	return e.TS
}

// Author is a resolved message author.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// ContextMessage is one message in a MessageWithContext history.
type ContextMessage struct {
	Text   string `json:"text"`
	Author Author `json:"author"`
}

// MessageWithContext is the agent's view of an inbound message: cleaned
// text, a resolved author, and the thread so far, oldest first.
type MessageWithContext struct {
	Text    string           `json:"text"`
	Author  Author           `json:"author"`
	History []ContextMessage `json:"history"`
}

// Block is a Block Kit layout block. Only the fields Kyle emits are
// modeled.
type Block struct {
	Type      string       `json:"type"`
	Text      *TextObject  `json:"text,omitempty"`
	Accessory *Element     `json:"accessory,omitempty"`
	Elements  []TextObject `json:"elements,omitempty"`
	ImageURL  string       `json:"image_url,omitempty"`
	AltText   string       `json:"alt_text,omitempty"`
}

// TextObject is a plain_text or mrkdwn text object.
type TextObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Element is a block element; Kyle only uses image accessories.
type Element struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url,omitempty"`
	AltText  string `json:"alt_text,omitempty"`
}

// MediaBlock renders a poster card: a mrkdwn section with the title on
// the first line, the description below, and the poster as accessory.
func MediaBlock(title, description, imageURL string) Block {
	text := title
	if description != "" {
		text += "\n" + description
	}
	b := Block{
		Type: "section",
		Text: &TextObject{Type: "mrkdwn", Text: truncate(text, 3000)},
	}
	if imageURL != "" {
		b.Accessory = &Element{Type: "image", ImageURL: imageURL, AltText: title}
	}
	return b
}

// ContextBlock renders a small grey note.
func ContextBlock(text string) Block {
	return Block{
		Type:     "context",
		Elements: []TextObject{{Type: "mrkdwn", Text: truncate(text, 3000)}},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
