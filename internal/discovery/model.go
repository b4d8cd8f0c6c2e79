package discovery

type CandidateImage struct {
	URL      string `json:"url"`
	Position int    `json:"position"`
}

// Candidate is one profile in the discovery queue.
type Candidate struct {
	ID                   int              `json:"id"`
	FullName             string           `json:"full_name"`
	Bio                  string           `json:"bio"`
	Age                  int              `json:"age"`
	Distance             float64          `json:"distance"`
	Images               []CandidateImage `json:"images"`
	Interests            []string         `json:"interests"`
	CommonInterests      []string         `json:"common_interests"`
	CommonInterestsCount int              `json:"common_interests_count"`
}

type SwipeRequest struct {
	LikedID int  `json:"liked_id"`
	IsLike  bool `json:"is_like"`
}

type SwipeResponse struct {
	Status  string `json:"status"`
	IsMatch bool   `json:"is_match"`
}

type UndoResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	UndoneUserID int    `json:"undone_user_id"`
}
