package models

// MessageKind is the payload type of an inbound or outbound message.
type MessageKind string

const (
	KindText    MessageKind = "text"
	KindPhoto   MessageKind = "photo"
	KindSticker MessageKind = "sticker"
	KindVoice   MessageKind = "voice"
	// KindNotice is a system message rendered from the message catalog.
	KindNotice MessageKind = "notice"
	// KindOther marks inbound payloads no transport can relay.
	KindOther MessageKind = "other"
)

// Inbound is one event received from a transport for a session.
type Inbound struct {
	Kind    MessageKind `json:"kind"`
	Text    string      `json:"text,omitempty"`
	FileID  string      `json:"file_id,omitempty"`
	Caption string      `json:"caption,omitempty"`
}

// IsCommand reports whether the event is a slash command.
func (in Inbound) IsCommand() bool {
	return in.Kind == KindText && len(in.Text) > 1 && in.Text[0] == '/'
}

// Outbound is one message handed to a transport for delivery.
//
// Relayed payloads use Text, FileID and Caption. Notices carry a catalog Key
// with positional Args; Items holds repeated lines (room lists, mood
// history) rendered with ItemKey.
type Outbound struct {
	Recipient int64       `json:"-"`
	Kind      MessageKind `json:"kind"`
	Text      string      `json:"text,omitempty"`
	FileID    string      `json:"file_id,omitempty"`
	Caption   string      `json:"caption,omitempty"`
	Key       string      `json:"key,omitempty"`
	Args      []string    `json:"args,omitempty"`
	ItemKey   string      `json:"item_key,omitempty"`
	Items     [][]string  `json:"items,omitempty"`
}

// Notice builds a catalog-rendered system message.
func Notice(recipient int64, key string, args ...string) Outbound {
	return Outbound{Recipient: recipient, Kind: KindNotice, Key: key, Args: args}
}

// Relay copies an inbound payload towards recipient.
func Relay(recipient int64, in Inbound) Outbound {
	return Outbound{
		Recipient: recipient,
		Kind:      in.Kind,
		Text:      in.Text,
		FileID:    in.FileID,
		Caption:   in.Caption,
	}
}
