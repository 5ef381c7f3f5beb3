package domain

// ChatMessage is one entry of a room's append-only chat log.
type ChatMessage struct {
	UserID   UserID `json:"userId"`
	Username string `json:"username"`
	Text     string `json:"text"`
	SentAt   int64  `json:"sentAt"`
}
