package api

type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Message        string     `json:"message"`
	History        []ChatTurn `json:"history,omitempty"`
	ConversationId string     `json:"conversationId,omitempty"`
	Language       string     `json:"language,omitempty"`
}

type Source struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

type ChatResponse struct {
	Message string   `json:"message"`
	Sources []Source `json:"sources"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
