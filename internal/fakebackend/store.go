package fakebackend

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"spark-client/internal/chat"
	"spark-client/internal/discovery"
	"spark-client/internal/jsontime"
	"spark-client/internal/matches"
	"spark-client/internal/user"
)

type account struct {
	id       int
	email    string
	password []byte
	profile  user.Profile
	location *user.Location
}

type swipe struct {
	liker, liked int
	like         bool
}

type match struct {
	id      int
	a, b    int
	created time.Time
}

type message struct {
	id       int
	sender   int
	receiver int
	content  string
	sent     time.Time
	read     bool
}

// store is the backend's in-memory state. Every method takes the lock.
type store struct {
	mu sync.Mutex

	now      func() time.Time
	seq      int
	accounts map[int]*account
	byEmail  map[string]int
	swipes   []swipe
	matches  []match
	messages []message
	blocks   map[[2]int]bool
	resets   map[string]resetEntry
}

type resetEntry struct {
	email   string
	expires time.Time
}

func newStore(now func() time.Time) *store {
	return &store{
		now:      now,
		accounts: make(map[int]*account),
		byEmail:  make(map[string]int),
		blocks:   make(map[[2]int]bool),
		resets:   make(map[string]resetEntry),
	}
}

func (s *store) nextID() int {
	s.seq++
	return s.seq
}

func (s *store) createAccount(email string, password []byte, p user.Profile) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[email]; taken {
		return 0, false
	}
	a := &account{id: s.nextID(), email: email, password: password, profile: p}
	s.accounts[a.id] = a
	s.byEmail[email] = a.id
	return a.id, true
}

func (s *store) account(id int) (account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return account{}, false
	}
	return *a, true
}

func (s *store) accountByEmail(email string) (account, bool) {
	s.mu.Lock()
	id, ok := s.byEmail[email]
	s.mu.Unlock()
	if !ok {
		return account{}, false
	}
	return s.account(id)
}

func (s *store) setPassword(id int, hash []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		a.password = hash
	}
}

func (s *store) updateProfile(id int, upd user.ProfileUpdate) (user.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return user.Profile{}, false
	}
	p := &a.profile
	if upd.FullName != nil {
		p.FullName = *upd.FullName
	}
	if upd.Bio != nil {
		p.Bio = *upd.Bio
	}
	if upd.Birthdate != nil {
		p.Birthdate = *upd.Birthdate
	}
	if upd.Gender != nil {
		p.Gender = *upd.Gender
	}
	if upd.Interests != nil {
		p.Interests = *upd.Interests
	}
	if upd.AgeMin != nil {
		p.AgeMin = upd.AgeMin
	}
	if upd.AgeMax != nil {
		p.AgeMax = upd.AgeMax
	}
	if upd.InterestsTags != nil {
		p.InterestsTags = upd.InterestsTags
	}
	return *p, true
}

func (s *store) addImage(id, position int) (user.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return user.Image{}, false
	}
	img := user.Image{ID: s.nextID(), Position: position}
	img.URL = "/static/images/" + strconv.Itoa(img.ID) + ".jpg"
	kept := a.profile.Images[:0]
	for _, existing := range a.profile.Images {
		if existing.Position != position {
			kept = append(kept, existing)
		}
	}
	a.profile.Images = append(kept, img)
	sort.Slice(a.profile.Images, func(i, j int) bool { return a.profile.Images[i].Position < a.profile.Images[j].Position })
	return img, true
}

func (s *store) deleteImage(id, imageID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return false
	}
	for i, img := range a.profile.Images {
		if img.ID == imageID {
			a.profile.Images = append(a.profile.Images[:i], a.profile.Images[i+1:]...)
			return true
		}
	}
	return false
}

func (s *store) setLocation(id int, loc user.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		a.location = &loc
	}
}

func (s *store) blockedEitherWay(a, b int) bool {
	return s.blocks[[2]int{a, b}] || s.blocks[[2]int{b, a}]
}

// candidate renders target as seen by viewer.
func (s *store) candidateLocked(viewer, target *account) discovery.Candidate {
	c := discovery.Candidate{
		ID:        target.id,
		FullName:  target.profile.FullName,
		Bio:       target.profile.Bio,
		Age:       ageOf(target.profile.Birthdate, s.now()),
		Interests: append([]string(nil), target.profile.InterestsTags...),
	}
	for _, img := range target.profile.Images {
		c.Images = append(c.Images, discovery.CandidateImage{URL: img.URL, Position: img.Position})
	}
	mine := map[string]bool{}
	for _, tag := range viewer.profile.InterestsTags {
		mine[tag] = true
	}
	for _, tag := range target.profile.InterestsTags {
		if mine[tag] {
			c.CommonInterests = append(c.CommonInterests, tag)
		}
	}
	c.CommonInterestsCount = len(c.CommonInterests)
	return c
}

func (s *store) discovery(viewer int) []discovery.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	me, ok := s.accounts[viewer]
	if !ok {
		return nil
	}
	swiped := map[int]bool{}
	for _, sw := range s.swipes {
		if sw.liker == viewer {
			swiped[sw.liked] = true
		}
	}
	out := []discovery.Candidate{}
	for _, id := range s.sortedIDsLocked() {
		if id == viewer || swiped[id] || s.blockedEitherWay(viewer, id) {
			continue
		}
		out = append(out, s.candidateLocked(me, s.accounts[id]))
	}
	return out
}

func (s *store) profileOf(viewer, target int) (discovery.Candidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	me, ok1 := s.accounts[viewer]
	them, ok2 := s.accounts[target]
	if !ok1 || !ok2 || s.blockedEitherWay(viewer, target) {
		return discovery.Candidate{}, false
	}
	return s.candidateLocked(me, them), true
}

// recordSwipe stores the swipe and reports whether it created a match.
func (s *store) recordSwipe(liker, liked int, like bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swipes = append(s.swipes, swipe{liker: liker, liked: liked, like: like})
	if !like {
		return false
	}
	reverse := false
	for _, sw := range s.swipes {
		if sw.liker == liked && sw.liked == liker && sw.like {
			reverse = true
			break
		}
	}
	if !reverse || s.matchIndexLocked(liker, liked) >= 0 {
		return false
	}
	s.matches = append(s.matches, match{id: s.nextID(), a: liker, b: liked, created: s.now()})
	return true
}

// undoSwipe removes liker's latest swipe, and with a like also the match
// and conversation it led to.
func (s *store) undoSwipe(liker int) (swipe, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.swipes) - 1; i >= 0; i-- {
		sw := s.swipes[i]
		if sw.liker != liker {
			continue
		}
		s.swipes = append(s.swipes[:i], s.swipes[i+1:]...)
		if sw.like {
			s.dropRelationLocked(liker, sw.liked, false)
		}
		return sw, true
	}
	return swipe{}, false
}

func (s *store) block(blocker, blocked int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropRelationLocked(blocker, blocked, true)
	s.blocks[[2]int{blocker, blocked}] = true
}

func (s *store) dropRelationLocked(a, b int, swipes bool) {
	if i := s.matchIndexLocked(a, b); i >= 0 {
		s.matches = append(s.matches[:i], s.matches[i+1:]...)
	}
	msgs := s.messages[:0]
	for _, m := range s.messages {
		if !between(m.sender, m.receiver, a, b) {
			msgs = append(msgs, m)
		}
	}
	s.messages = msgs
	if swipes {
		kept := s.swipes[:0]
		for _, sw := range s.swipes {
			if !between(sw.liker, sw.liked, a, b) {
				kept = append(kept, sw)
			}
		}
		s.swipes = kept
	}
}

func (s *store) matchIndexLocked(a, b int) int {
	for i, m := range s.matches {
		if between(m.a, m.b, a, b) {
			return i
		}
	}
	return -1
}

func (s *store) matchesOf(id int) []matches.Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []matches.Match{}
	for _, m := range s.matches {
		other := m.b
		if m.b == id {
			other = m.a
		} else if m.a != id {
			continue
		}
		acc, ok := s.accounts[other]
		if !ok {
			continue
		}
		rec := matches.Match{
			MatchID:     m.id,
			UserID:      other,
			FullName:    acc.profile.FullName,
			LastMessage: "No messages yet",
			CreatedAt:   jsontime.New(m.created),
		}
		if age := ageOf(acc.profile.Birthdate, s.now()); age > 0 {
			rec.Age = &age
		}
		if len(acc.profile.Images) > 0 {
			rec.Image = acc.profile.Images[0].URL
		}
		for i := len(s.messages) - 1; i >= 0; i-- {
			if between(s.messages[i].sender, s.messages[i].receiver, id, other) {
				rec.LastMessage = s.messages[i].content
				break
			}
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt.Time) })
	return out
}

func (s *store) addMessage(sender, receiver int, content string) message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := message{id: s.nextID(), sender: sender, receiver: receiver, content: content, sent: s.now()}
	s.messages = append(s.messages, m)
	return m
}

func (s *store) conversation(a, b int) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []chat.Message{}
	for _, m := range s.messages {
		if between(m.sender, m.receiver, a, b) {
			out = append(out, chat.Message{
				ID:         m.id,
				SenderID:   m.sender,
				ReceiverID: m.receiver,
				Content:    m.content,
				Timestamp:  jsontime.New(m.sent),
				IsRead:     m.read,
			})
		}
	}
	return out
}

// markRead marks everything sender sent to receiver as read.
func (s *store) markRead(receiver, sender int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.messages {
		m := &s.messages[i]
		if m.sender == sender && m.receiver == receiver && !m.read {
			m.read = true
			n++
		}
	}
	return n
}

// createReset replaces any outstanding code for email.
func (s *store) createReset(email, code string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; !ok {
		return false
	}
	for c, e := range s.resets {
		if e.email == email {
			delete(s.resets, c)
		}
	}
	s.resets[code] = resetEntry{email: email, expires: s.now().Add(ttl)}
	return true
}

func (s *store) resetCode(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c, e := range s.resets {
		if e.email == email {
			return c
		}
	}
	return ""
}

func (s *store) consumeReset(code string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.resets[code]
	if !ok {
		return 0, false
	}
	delete(s.resets, code)
	if s.now().After(e.expires) {
		return 0, false
	}
	id, ok := s.byEmail[e.email]
	return id, ok
}

func (s *store) sortedIDsLocked() []int {
	ids := make([]int, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func between(x, y, a, b int) bool {
	return (x == a && y == b) || (x == b && y == a)
}

func ageOf(birthdate string, now time.Time) int {
	t, err := time.Parse(time.DateOnly, birthdate)
	if err != nil {
		return 0
	}
	return now.Year() - t.Year()
}
