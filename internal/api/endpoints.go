package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"spark-client/internal/chat"
	"spark-client/internal/discovery"
	"spark-client/internal/matches"
	"spark-client/internal/user"
)

// ---- auth ----

func (c *Client) Me(ctx context.Context) (*user.User, error) {
	var u user.User
	if err := c.do(ctx, http.MethodGet, "GET /auth/me", "/auth/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) Login(ctx context.Context, req user.LoginRequest) (*user.LoginResponse, error) {
	var res user.LoginResponse
	if err := c.do(ctx, http.MethodPost, "POST /auth/login", "/auth/login", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Register(ctx context.Context, req user.RegisterRequest) (*user.RegisterResponse, error) {
	var res user.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "POST /auth/register", "/auth/register", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	body := map[string]string{"email": email}
	return c.do(ctx, http.MethodPost, "POST /auth/forgot-password", "/auth/forgot-password", body, nil)
}

func (c *Client) ResetPassword(ctx context.Context, req user.ResetPasswordRequest) error {
	return c.do(ctx, http.MethodPost, "POST /auth/reset-password", "/auth/reset-password", req, nil)
}

// ---- discovery ----

func (c *Client) Discovery(ctx context.Context) ([]discovery.Candidate, error) {
	var out []discovery.Candidate
	if err := c.do(ctx, http.MethodGet, "GET /users/discovery", "/users/discovery", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Swipe(ctx context.Context, req discovery.SwipeRequest) (*discovery.SwipeResponse, error) {
	var res discovery.SwipeResponse
	if err := c.do(ctx, http.MethodPost, "POST /users/swipe", "/users/swipe", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) UndoSwipe(ctx context.Context) (*discovery.UndoResponse, error) {
	var res discovery.UndoResponse
	if err := c.do(ctx, http.MethodPost, "POST /users/swipe/undo", "/users/swipe/undo", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ---- matches and other users ----

func (c *Client) Matches(ctx context.Context) ([]matches.Match, error) {
	var out []matches.Match
	if err := c.do(ctx, http.MethodGet, "GET /users/matches", "/users/matches", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UserProfile(ctx context.Context, userID int) (*discovery.Candidate, error) {
	var out discovery.Candidate
	path := "/users/" + strconv.Itoa(userID) + "/profile"
	if err := c.do(ctx, http.MethodGet, "GET /users/{id}/profile", path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Block(ctx context.Context, userID int) error {
	path := "/users/" + strconv.Itoa(userID) + "/block"
	return c.do(ctx, http.MethodPost, "POST /users/{id}/block", path, nil, nil)
}

// ---- own profile ----

func (c *Client) MyProfile(ctx context.Context) (*user.Profile, error) {
	var out user.Profile
	if err := c.do(ctx, http.MethodGet, "GET /users/me/profile", "/users/me/profile", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateProfile(ctx context.Context, upd user.ProfileUpdate) (*user.Profile, error) {
	var res struct {
		Message string        `json:"message"`
		Profile *user.Profile `json:"profile"`
	}
	if err := c.do(ctx, http.MethodPatch, "PATCH /users/me/profile", "/users/me/profile", upd, &res); err != nil {
		return nil, err
	}
	return res.Profile, nil
}

func (c *Client) ChangePassword(ctx context.Context, req user.PasswordChange) error {
	return c.do(ctx, http.MethodPut, "PUT /users/me/change-password", "/users/me/change-password", req, nil)
}

// UploadImage sends the image as multipart fields "file" and "position".
func (c *Client) UploadImage(ctx context.Context, position int, filename string, r io.Reader) (*user.Image, error) {
	const endpoint = "POST /users/me/images/upload"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("position", strconv.Itoa(position)); err != nil {
		return nil, fmt.Errorf("api: build %s: %w", endpoint, err)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("api: build %s: %w", endpoint, err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, fmt.Errorf("api: read image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("api: build %s: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/users/me/images/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("api: build %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var img user.Image
	if err := c.send(req, endpoint, &img); err != nil {
		return nil, err
	}
	return &img, nil
}

func (c *Client) DeleteImage(ctx context.Context, imageID int) error {
	path := "/users/me/images/" + strconv.Itoa(imageID)
	return c.do(ctx, http.MethodDelete, "DELETE /users/me/images/{id}", path, nil, nil)
}

func (c *Client) UpdateLocation(ctx context.Context, loc user.Location) error {
	return c.do(ctx, http.MethodPost, "POST /users/me/location", "/users/me/location", loc, nil)
}

// ---- chat ----

func (c *Client) Conversation(ctx context.Context, userID int) ([]chat.Message, error) {
	var out []chat.Message
	path := "/chat/conversation/" + strconv.Itoa(userID)
	if err := c.do(ctx, http.MethodGet, "GET /chat/conversation/{userId}", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MarkRead(ctx context.Context, userID int) error {
	path := "/chat/mark-read/" + strconv.Itoa(userID)
	return c.do(ctx, http.MethodPost, "POST /chat/mark-read/{userId}", path, nil, nil)
}
