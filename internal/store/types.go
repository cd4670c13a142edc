package store

// QueueSummary is the per-type view of waiting users and ready devices.
type QueueSummary struct {
	TypeID  int64  `json:"id"`
	Name    string `json:"name"`
	Waiting int64  `json:"waiting"`
	Ready   int64  `json:"ready"`
}
