package domain

import "time"

// ConversationTurn is one completed exchange kept for follow-up resolution.
type ConversationTurn struct {
	Question      string     `json:"question"`
	Intent        Intent     `json:"intent"`
	TimeRange     TimeRange  `json:"time_range"`
	Query         string     `json:"query,omitempty"`
	Answer        string     `json:"answer"`
	Clarification bool       `json:"clarification,omitempty"`
	DataSource    DataSource `json:"data_source,omitempty"`
	At            time.Time  `json:"at"`
}

// ConversationContext is the ordered history of a conversation, oldest first.
type ConversationContext struct {
	ConversationID string             `json:"conversation_id"`
	Turns          []ConversationTurn `json:"turns"`
}

// Last returns the most recent turn, or nil for a fresh conversation.
func (c ConversationContext) Last() *ConversationTurn {
	if len(c.Turns) == 0 {
		return nil
	}
	t := c.Turns[len(c.Turns)-1]
	return &t
}

// LastResolved returns the most recent turn that carried a resolved intent,
// skipping clarification turns.
func (c ConversationContext) LastResolved() *ConversationTurn {
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if !c.Turns[i].Clarification && c.Turns[i].Intent != IntentAmbiguous && c.Turns[i].Intent != "" {
			t := c.Turns[i]
			return &t
		}
	}
	return nil
}
