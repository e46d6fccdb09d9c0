package services

import (
	"context"
	"errors"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

// SocialService manages blocks, pinned chats and starred messages.
type SocialService struct {
	DB *gorm.DB
}

// Block stops blockedID from messaging blockerID. Blocking twice is a no-op.
func (s *SocialService) Block(ctx context.Context, blockerID, blockedID string) error {
	if err := s.requirePeer(ctx, blockerID, blockedID); err != nil {
		return err
	}
	return repo.BlockUser(ctx, s.DB, blockerID, blockedID)
}

// Unblock removes a block; ErrNotFound when none existed.
func (s *SocialService) Unblock(ctx context.Context, blockerID, blockedID string) error {
	return notFound(repo.UnblockUser(ctx, s.DB, blockerID, blockedID))
}

// Blocked lists the users blockerID has blocked.
func (s *SocialService) Blocked(ctx context.Context, blockerID string) ([]domain.User, error) {
	return repo.ListBlocked(ctx, s.DB, blockerID)
}

// PinChat pins the conversation with peerID.
func (s *SocialService) PinChat(ctx context.Context, userID, peerID string) error {
	if err := s.requirePeer(ctx, userID, peerID); err != nil {
		return err
	}
	return repo.PinChat(ctx, s.DB, userID, peerID)
}

// UnpinChat unpins the conversation with peerID.
func (s *SocialService) UnpinChat(ctx context.Context, userID, peerID string) error {
	return notFound(repo.UnpinChat(ctx, s.DB, userID, peerID))
}

// PinnedChats returns the pinned peers, most recently pinned first.
func (s *SocialService) PinnedChats(ctx context.Context, userID string) ([]domain.User, error) {
	ids, err := repo.ListPinnedChats(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	byID, err := repo.UsersByIDs(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	return lo.FilterMap(ids, func(id string, _ int) (domain.User, bool) {
		u, ok := byID[id]
		return u, ok
	}), nil
}

// Star bookmarks a message userID sent or received.
func (s *SocialService) Star(ctx context.Context, userID, messageID string) error {
	m, err := repo.GetMessage(ctx, s.DB, messageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	if m.SenderID != userID && m.RecipientID != userID {
		return ErrMessageNotFound
	}
	return repo.StarMessage(ctx, s.DB, userID, messageID)
}

// Unstar removes a bookmark.
func (s *SocialService) Unstar(ctx context.Context, userID, messageID string) error {
	return notFound(repo.UnstarMessage(ctx, s.DB, userID, messageID))
}

// Starred lists userID's bookmarks, most recent first.
func (s *SocialService) Starred(ctx context.Context, userID string) ([]domain.MessageView, error) {
	msgs, err := repo.ListStarredMessages(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	return views(msgs), nil
}

func (s *SocialService) requirePeer(ctx context.Context, userID, peerID string) error {
	if userID == peerID {
		return ErrSelf
	}
	if _, err := repo.GetUser(ctx, s.DB, peerID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

// notFound maps repo.ErrNotFound to ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// views projects messages to their public view.
func views(msgs []domain.Message) []domain.MessageView {
	return lo.Map(msgs, func(m domain.Message, _ int) domain.MessageView { return m.View() })
}
