package domain

// ChatMessage is a single role-tagged message sent to chat-style language
// model backends.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
