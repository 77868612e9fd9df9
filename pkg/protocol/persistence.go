package protocol

// HistoryTurn is one role/content turn in the chat-history projection sent
// with persistence writes and chunked-stream requests.
type HistoryTurn struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// NewMessageRequest is the db_new_message write contract.
type NewMessageRequest struct {
	CustomerID      string        `json:"customer_id"`
	SessionID       string        `json:"session_id"`
	UserMessage     string        `json:"user_message"`
	AIResponse      string        `json:"ai_response"`
	AICharacterName string        `json:"ai_character_name"`
	ChatHistory     []HistoryTurn `json:"chat_history"`
}

// EditMessageRequest is the db_edit_message write contract. The backend
// replaces the turn identified by UserMessageID and discards everything
// after it, mirroring the client-side truncation.
type EditMessageRequest struct {
	CustomerID      string        `json:"customer_id"`
	SessionID       string        `json:"session_id"`
	UserMessageID   int64         `json:"user_message_id"`
	UserMessage     string        `json:"user_message"`
	AIResponse      string        `json:"ai_response"`
	AICharacterName string        `json:"ai_character_name"`
	ChatHistory     []HistoryTurn `json:"chat_history"`
}

// WriteResponse is returned by both persistence writes. SessionID is the
// durable id for sessions created by this write; the message ids confirm
// persistence of the optimistic pair.
type WriteResponse struct {
	SessionID     string `json:"session_id"`
	UserMessageID int64  `json:"user_message_id"`
	AIMessageID   int64  `json:"ai_message_id"`
}

// StreamRequest is the chunked-stream request body: the full history plus a
// free-form asset context block the backend folds into the prompt.
type StreamRequest struct {
	CustomerID   string        `json:"customer_id"`
	SessionID    string        `json:"session_id,omitempty"`
	Character    string        `json:"character"`
	ChatHistory  []HistoryTurn `json:"chat_history"`
	AssetContext string        `json:"asset_context,omitempty"`
}
