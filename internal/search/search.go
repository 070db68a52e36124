package search

// Query is a message search request.
type Query struct {
	Text         string
	FilterRoomID string
	Limit        int
	Offset       int
}

// Result is one matching message.
type Result struct {
	MessageID string  `json:"messageId"`
	RoomID    string  `json:"roomId"`
	CreatorID string  `json:"creatorId"`
	Snippet   string  `json:"snippet"`
	Rank      float64 `json:"rank"`
}

// Response wraps results with the echoed query.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// MessageRecord is the indexable projection of a message. Copies are never
// indexed; their content lives on the original.
type MessageRecord struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	CreatorID string `json:"creatorId"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"createdAt"`
}
