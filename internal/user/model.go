package user

type User struct {
	ID       int    `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type RegisterRequest struct {
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Birthdate string `json:"birthdate"` // YYYY-MM-DD
	Gender    string `json:"gender"`
}

type RegisterResponse struct {
	Message string `json:"message"`
	UserID  int    `json:"user_id"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type PasswordChange struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type Image struct {
	ID       int    `json:"id"`
	URL      string `json:"url"`
	Position int    `json:"position"`
}

type Profile struct {
	FullName      string   `json:"full_name"`
	Bio           string   `json:"bio"`
	Birthdate     string   `json:"birthdate"`
	Gender        string   `json:"gender"`
	Interests     string   `json:"interests"`
	AgeMin        *int     `json:"age_min"`
	AgeMax        *int     `json:"age_max"`
	InterestsTags []string `json:"interests_tags"`
	Images        []Image  `json:"images"`
}

// ProfileUpdate is a partial update; nil fields are left untouched.
type ProfileUpdate struct {
	FullName      *string  `json:"full_name,omitempty"`
	Bio           *string  `json:"bio,omitempty"`
	Birthdate     *string  `json:"birthdate,omitempty"`
	Gender        *string  `json:"gender,omitempty"`
	Interests     *string  `json:"interests,omitempty"`
	AgeMin        *int     `json:"age_min,omitempty"`
	AgeMax        *int     `json:"age_max,omitempty"`
	InterestsTags []string `json:"interests_tags,omitempty"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
