package matches

import "spark-client/internal/jsontime"

type Match struct {
	MatchID     int           `json:"match_id"`
	UserID      int           `json:"user_id"`
	FullName    string        `json:"full_name"`
	Age         *int          `json:"age"`
	Image       string        `json:"image"`
	LastMessage string        `json:"last_message"`
	CreatedAt   jsontime.Time `json:"created_at"`
}
