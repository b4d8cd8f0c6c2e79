package user

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"spark-client/internal/apperr"
	"spark-client/internal/bus"
	"spark-client/internal/discovery"
	"spark-client/internal/logger"
)

const maxInterests = 6

type ProfileBackend interface {
	MyProfile(ctx context.Context) (*Profile, error)
	UpdateProfile(ctx context.Context, upd ProfileUpdate) (*Profile, error)
	ChangePassword(ctx context.Context, req PasswordChange) error
	UploadImage(ctx context.Context, position int, filename string, r io.Reader) (*Image, error)
	DeleteImage(ctx context.Context, imageID int) error
	UserProfile(ctx context.Context, userID int) (*discovery.Candidate, error)
	Block(ctx context.Context, userID int) error
	UpdateLocation(ctx context.Context, loc Location) error
}

// ProfileService edits the current user's profile and acts on other users.
type ProfileService struct {
	backend ProfileBackend
	bus     *bus.Bus
	log     *slog.Logger
}

func NewProfileService(backend ProfileBackend, b *bus.Bus, log *slog.Logger) *ProfileService {
	return &ProfileService{
		backend: backend,
		bus:     b,
		log:     logger.OrDefault(log),
	}
}

func (p *ProfileService) Get(ctx context.Context) (*Profile, error) {
	return p.backend.MyProfile(ctx)
}

func (p *ProfileService) Update(ctx context.Context, upd ProfileUpdate) (*Profile, error) {
	if len(upd.InterestsTags) > maxInterests {
		return nil, apperr.Reject("update profile", fmt.Sprintf("at most %d interests", maxInterests))
	}
	if upd.AgeMin != nil && upd.AgeMax != nil && *upd.AgeMin > *upd.AgeMax {
		return nil, apperr.Reject("update profile", "minimum age is above maximum age")
	}
	prof, err := p.backend.UpdateProfile(ctx, upd)
	if err != nil {
		p.notify(bus.NoticeError, "Error updating profile.")
		return nil, err
	}
	p.notify(bus.NoticeSuccess, "Profile updated successfully!")
	return prof, nil
}

// ChangePassword checks that the new password was typed the same twice.
func (p *ProfileService) ChangePassword(ctx context.Context, oldPassword, newPassword, confirm string) error {
	if newPassword != confirm {
		return apperr.Reject("change password", "New passwords do not match!")
	}
	if newPassword == "" {
		return apperr.Reject("change password", "new password is required")
	}
	if err := p.backend.ChangePassword(ctx, PasswordChange{OldPassword: oldPassword, NewPassword: newPassword}); err != nil {
		return err
	}
	p.notify(bus.NoticeSuccess, "Password changed successfully!")
	return nil
}

func (p *ProfileService) UploadImage(ctx context.Context, position int, filename string, r io.Reader) (*Image, error) {
	if position < 0 {
		return nil, apperr.Reject("upload image", "position must not be negative")
	}
	img, err := p.backend.UploadImage(ctx, position, filename, r)
	if err != nil {
		p.log.Warn("image upload failed", "position", position, "err", err)
		p.notify(bus.NoticeError, "Upload failed.")
		return nil, err
	}
	p.notify(bus.NoticeSuccess, "Photo uploaded!")
	return img, nil
}

func (p *ProfileService) DeleteImage(ctx context.Context, imageID int) error {
	if err := p.backend.DeleteImage(ctx, imageID); err != nil {
		p.log.Warn("image delete failed", "image_id", imageID, "err", err)
		return err
	}
	p.notify(bus.NoticeSuccess, "Photo removed")
	return nil
}

// View fetches another user's public profile.
func (p *ProfileService) View(ctx context.Context, userID int) (*discovery.Candidate, error) {
	c, err := p.backend.UserProfile(ctx, userID)
	if err != nil {
		p.notify(bus.NoticeError, "Could not load profile")
		return nil, err
	}
	return c, nil
}

// Block blocks userID. On success every cache forgets the user, exactly as
// when the other side blocks.
func (p *ProfileService) Block(ctx context.Context, userID int) error {
	if err := p.backend.Block(ctx, userID); err != nil {
		p.log.Warn("block failed", "user_id", userID, "err", err)
		p.notify(bus.NoticeError, "Failed to block user.")
		return err
	}
	p.bus.Publish(bus.CounterpartRemoved{UserID: userID, Reason: bus.BlockedBySelf})
	p.notify(bus.NoticeSuccess, "User blocked and data cleared.")
	return nil
}

// SyncLocation reports the device position. Failures are logged only.
func (p *ProfileService) SyncLocation(ctx context.Context, loc Location) error {
	if err := p.backend.UpdateLocation(ctx, loc); err != nil {
		p.log.Warn("location sync failed", "err", err)
		return err
	}
	return nil
}

func (p *ProfileService) notify(level bus.NoticeLevel, text string) {
	p.bus.Publish(bus.Notice{Level: level, Text: text})
}
