package domain

// ChatType mirrors the hosting platform's chat kinds.
type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

type Chat struct {
	ID   int64    `json:"id"`
	Type ChatType `json:"type"`
}

func (c Chat) IsGroup() bool {
	return c.Type == ChatGroup || c.Type == ChatSupergroup
}

// User is an acting or referenced identity as reported by the platform.
type User struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Handle      string `json:"handle,omitempty"`
	IsBot       bool   `json:"is_bot,omitempty"`
}

// Member binds the user to a chat.
func (u User) Member(chatID int64) Member {
	return Member{
		ChatID:      chatID,
		UserID:      u.ID,
		DisplayName: u.DisplayName,
		Handle:      u.Handle,
		IsBot:       u.IsBot,
	}
}

// Callback is a ballot button press.
type Callback struct {
	ID   string `json:"id,omitempty"`
	Data string `json:"data"`
}

// ChatEvent is one inbound update from the transport bridge.
type ChatEvent struct {
	Chat         Chat      `json:"chat"`
	From         *User     `json:"from,omitempty"`
	ReplyTo      *User     `json:"reply_to,omitempty"`
	Text         string    `json:"text,omitempty"`
	Callback     *Callback `json:"callback,omitempty"`
	MemberUpdate *User     `json:"member_update,omitempty"`
}

// Button is a ballot button. Data is echoed back in Callback.Data.
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

type Ballot struct {
	PollID  int64    `json:"poll_id"`
	Buttons []Button `json:"buttons"`
}

// Reply tells the transport bridge what to show for an event.
type Reply struct {
	Text        string  `json:"text,omitempty"`
	Ballot      *Ballot `json:"ballot,omitempty"`
	Alert       bool    `json:"alert,omitempty"`
	StripBallot bool    `json:"strip_ballot,omitempty"`
	// EditMessage is set when the reply replaces the ballot message instead of posting a new one.
	EditMessage bool  `json:"edit_message,omitempty"`
	PollID      int64 `json:"poll_id,omitempty"`
}
