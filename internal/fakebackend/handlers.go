package fakebackend

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"spark-client/internal/discovery"
	"spark-client/internal/push"
	"spark-client/internal/user"
)

const maxUploadSize = 10 << 20

// ---- auth ----

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req user.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Email == "" || len(req.Password) < 8 {
		writeValidation(w, "Email and a password of at least 8 characters are required")
		return
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Could not hash password")
		return
	}
	id, ok := s.store.createAccount(strings.ToLower(req.Email), hash, user.Profile{
		FullName:  req.FullName,
		Birthdate: req.Birthdate,
		Gender:    req.Gender,
	})
	if !ok {
		writeDetail(w, http.StatusBadRequest, "Email already exists")
		return
	}
	s.log.Info("user registered", "user_id", id)
	writeJSON(w, http.StatusCreated, user.RegisterResponse{Message: "Successful register!", UserID: id})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req user.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	acc, ok := s.store.accountByEmail(strings.ToLower(req.Email))
	if !ok || !checkPassword(acc.password, req.Password) {
		writeDetail(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	tok, err := s.tokens.Mint(acc.id)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, user.LoginResponse{AccessToken: tok, TokenType: "bearer"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.store.account(caller(r))
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	writeJSON(w, http.StatusOK, user.User{ID: acc.id, Email: acc.email, FullName: acc.profile.FullName})
}

func (s *Server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &req) {
		return
	}
	code := s.newResetCode()
	if s.store.createReset(strings.ToLower(req.Email), code, resetCodeTTL) {
		s.log.Info("recovery code generated", "email", req.Email, "code", code)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "If the email exists, a recovery code has been generated."})
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req user.ResetPasswordRequest
	if !decode(w, r, &req) {
		return
	}
	id, ok := s.store.consumeReset(req.Token)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "Invalid or expired code.")
		return
	}
	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Could not hash password")
		return
	}
	s.store.setPassword(id, hash)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password successfully reset!"})
}

// ---- discovery ----

func (s *Server) discovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.discovery(caller(r)))
}

func (s *Server) swipe(w http.ResponseWriter, r *http.Request) {
	var req discovery.SwipeRequest
	if !decode(w, r, &req) {
		return
	}
	me := caller(r)
	if _, ok := s.store.account(req.LikedID); !ok || req.LikedID == me {
		writeDetail(w, http.StatusNotFound, "User not found")
		return
	}
	matched := s.store.recordSwipe(me, req.LikedID, req.IsLike)
	if matched {
		s.notify(req.LikedID, push.NewMatch{UserID: me})
	}
	writeJSON(w, http.StatusOK, discovery.SwipeResponse{Status: "ok", IsMatch: matched})
}

func (s *Server) undoSwipe(w http.ResponseWriter, r *http.Request) {
	sw, ok := s.store.undoSwipe(caller(r))
	if !ok {
		writeDetail(w, http.StatusNotFound, "No swipe history found to undo")
		return
	}
	writeJSON(w, http.StatusOK, discovery.UndoResponse{
		Status:       "success",
		Message:      "Last swipe has been undone",
		UndoneUserID: sw.liked,
	})
}

// ---- matches and other users ----

func (s *Server) matches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.matchesOf(caller(r)))
}

func (s *Server) userProfile(w http.ResponseWriter, r *http.Request) {
	target, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	c, ok := s.store.profileOf(caller(r), target)
	if !ok {
		writeDetail(w, http.StatusNotFound, "User profile not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) block(w http.ResponseWriter, r *http.Request) {
	target, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	me := caller(r)
	if target == me {
		writeDetail(w, http.StatusBadRequest, "You cannot block yourself.")
		return
	}
	s.store.block(me, target)
	s.notify(target, push.UserBlocked{BlockedBy: me})
	writeJSON(w, http.StatusOK, map[string]string{"message": "User blocked."})
}

// ---- own profile ----

func (s *Server) myProfile(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.store.account(caller(r))
	if !ok {
		writeDetail(w, http.StatusNotFound, "Profile not found")
		return
	}
	writeJSON(w, http.StatusOK, acc.profile)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var upd user.ProfileUpdate
	if !decode(w, r, &upd) {
		return
	}
	p, ok := s.store.updateProfile(caller(r), upd)
	if !ok {
		writeDetail(w, http.StatusNotFound, "Profile not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Profile updated successfully", "profile": p})
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req user.PasswordChange
	if !decode(w, r, &req) {
		return
	}
	acc, ok := s.store.account(caller(r))
	if !ok {
		writeDetail(w, http.StatusNotFound, "User not found")
		return
	}
	if !checkPassword(acc.password, req.OldPassword) {
		writeDetail(w, http.StatusBadRequest, "Incorrect password")
		return
	}
	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Could not hash password")
		return
	}
	s.store.setPassword(acc.id, hash)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated successfully!"})
}

func (s *Server) uploadImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeValidation(w, "Expected a multipart form")
		return
	}
	position, err := strconv.Atoi(r.FormValue("position"))
	if err != nil {
		writeValidation(w, "position must be an integer")
		return
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		writeValidation(w, "file is required")
		return
	}
	f.Close()
	img, ok := s.store.addImage(caller(r), position)
	if !ok {
		writeDetail(w, http.StatusNotFound, "Profile not found")
		return
	}
	writeJSON(w, http.StatusOK, img)
}

func (s *Server) deleteImage(w http.ResponseWriter, r *http.Request) {
	imageID, ok := pathID(w, r, "imageID")
	if !ok {
		return
	}
	if !s.store.deleteImage(caller(r), imageID) {
		writeDetail(w, http.StatusNotFound, "Image not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully removed"})
}

func (s *Server) updateLocation(w http.ResponseWriter, r *http.Request) {
	var loc user.Location
	if !decode(w, r, &loc) {
		return
	}
	s.store.setLocation(caller(r), loc)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Location updated successfully"})
}

// ---- chat ----

func (s *Server) conversation(w http.ResponseWriter, r *http.Request) {
	other, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.store.conversation(caller(r), other))
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	sender, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	me := caller(r)
	s.store.markRead(me, sender)
	s.notify(sender, push.MessagesRead{ReaderID: me})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	if id != caller(r) {
		writeDetail(w, http.StatusForbidden, "Token does not match channel owner")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "user_id", id, "error", err)
		return
	}
	c := &client{
		hub:     s.hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		userID:  id,
		log:     s.log,
		onFrame: s.relay,
	}
	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// newMessageFrame carries the timestamp without a zone, as the backend
// serializes it.
type newMessageFrame struct {
	Type       string `json:"type"`
	SenderID   int    `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
}

// relay stores an inbound chat frame and forwards it to the receiver.
func (s *Server) relay(senderID int, out push.Outbound) {
	m := s.store.addMessage(senderID, out.ReceiverID, out.Content)
	name := "Somebody"
	if acc, ok := s.store.account(senderID); ok && acc.profile.FullName != "" {
		name = acc.profile.FullName
	}
	payload, err := json.Marshal(newMessageFrame{
		Type:       string(push.TagNewMessage),
		SenderID:   senderID,
		SenderName: name,
		Content:    out.Content,
		Timestamp:  m.sent.UTC().Format("2006-01-02T15:04:05.999999"),
	})
	if err != nil {
		s.log.Error("encode new_message", "error", err)
		return
	}
	s.hub.send(out.ReceiverID, payload)
}

func (s *Server) notify(userID int, ev push.Event) {
	if err := s.Push(userID, ev); err != nil {
		s.log.Error("encode push event", "type", ev.Tag(), "error", err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, key))
	if err != nil {
		writeValidation(w, key+" must be an integer")
		return 0, false
	}
	return id, true
}
