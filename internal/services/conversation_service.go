// Package services – ConversationService
//
// This file implements read-side operations over direct conversations:
// summaries, paginated history, pinned and media listings, unread counters,
// per-message pin/delete, and in-conversation search over the in-memory
// search.Index.
//
// Observability: public methods that hit the store more than once are
// OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/repo"
	"github.com/tbourn/go-dm-backend/internal/search"
	"github.com/tbourn/go-dm-backend/internal/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// mediaTypes are the message types listed as shared media.
var mediaTypes = []string{
	domain.MessageImage, domain.MessageVideo, domain.MessageAudio,
	domain.MessageFile, domain.MessageVoice,
}

// ConversationSummary is one row of the conversation list.
type ConversationSummary struct {
	Peer        domain.UserSummary `json:"peer"`
	PeerStatus  string             `json:"peer_status"`
	LastMessage domain.Message     `json:"last_message"`
	Unread      int64              `json:"unread"`
	Pinned      bool               `json:"pinned"`
}

// SearchHit is one message matched by Search.
type SearchHit struct {
	Message domain.MessageView `json:"message"`
	Score   float64            `json:"score"`
	// Snippet is the matched part of the content, elided when long.
	Snippet string `json:"snippet"`
}

// ConversationService serves conversation history and per-message actions.
type ConversationService struct {
	DB *gorm.DB

	// SearchWindow is how many recent messages Search scans.
	SearchWindow int
	// SearchThreshold drops hits scoring below it.
	SearchThreshold float64
	// SearchOptions tune the per-query index.
	SearchOptions []search.Option
}

// Summaries returns one row per peer userID has exchanged messages with.
// Pinned conversations come first, then newest activity first.
func (s *ConversationService) Summaries(ctx context.Context, userID string) ([]ConversationSummary, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Summaries",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	latest, err := repo.LatestPerPeer(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	unread, err := repo.UnreadBySender(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	pinnedIDs, err := repo.ListPinnedChats(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}

	peerOf := func(m domain.Message) string {
		if m.SenderID == userID {
			return m.RecipientID
		}
		return m.SenderID
	}
	peers, err := repo.UsersByIDs(ctx, s.DB, lo.Map(latest, func(m domain.Message, _ int) string { return peerOf(m) }))
	if err != nil {
		return nil, err
	}

	out := make([]ConversationSummary, 0, len(latest))
	for _, m := range latest {
		pid := peerOf(m)
		peer, ok := peers[pid]
		if !ok {
			continue
		}
		out = append(out, ConversationSummary{
			Peer:        peer.Summary(),
			PeerStatus:  peer.Status,
			LastMessage: m,
			Unread:      unread[pid],
			Pinned:      lo.Contains(pinnedIDs, pid),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		return out[i].LastMessage.CreatedAt.After(out[j].LastMessage.CreatedAt)
	})
	return out, nil
}

// Page returns a page of the conversation between userID and peerID, oldest
// first, plus the total count.
func (s *ConversationService) Page(ctx context.Context, userID, peerID string, page, pageSize int) ([]domain.MessageView, int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Page",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("peer.id", peerID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if pageSize <= 0 {
		pageSize = 50
	}
	if err := s.requireUser(ctx, peerID); err != nil {
		return nil, 0, err
	}

	total, err := repo.CountConversation(ctx, s.DB, userID, peerID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.MessageView{}, 0, nil
	}
	items, err := repo.ListConversationPage(ctx, s.DB, userID, peerID, utils.Offset(page, pageSize), pageSize)
	if err != nil {
		return nil, 0, err
	}
	return views(items), total, nil
}

// Stats returns the message count and latest update time of the
// conversation, used for conditional responses.
func (s *ConversationService) Stats(ctx context.Context, userID, peerID string) (int64, *time.Time, error) {
	return repo.ConversationStats(ctx, s.DB, userID, peerID)
}

// Pinned lists pinned messages of the conversation, newest first.
func (s *ConversationService) Pinned(ctx context.Context, userID, peerID string) ([]domain.MessageView, error) {
	msgs, err := repo.ListPinnedMessages(ctx, s.DB, userID, peerID)
	if err != nil {
		return nil, err
	}
	return views(msgs), nil
}

// Media lists shared media and files of the conversation, newest first.
func (s *ConversationService) Media(ctx context.Context, userID, peerID string) ([]domain.MessageView, error) {
	msgs, err := repo.ListMediaMessages(ctx, s.DB, userID, peerID, mediaTypes)
	if err != nil {
		return nil, err
	}
	return views(msgs), nil
}

// Search ranks recent text messages of the conversation against q.
func (s *ConversationService) Search(ctx context.Context, userID, peerID, q string, k int) ([]SearchHit, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Search",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("peer.id", peerID),
			attribute.String("query", q),
		),
	)
	defer span.End()

	q = strings.TrimSpace(q)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	window := s.SearchWindow
	if window <= 0 {
		window = 1000
	}
	recent, err := repo.ListRecentConversation(ctx, s.DB, userID, peerID, window)
	if err != nil {
		return nil, err
	}
	byID := lo.KeyBy(recent, func(m domain.Message) string { return m.ID })
	docs := lo.FilterMap(recent, func(m domain.Message, _ int) (search.Document, bool) {
		return search.Document{ID: m.ID, Text: m.Content}, strings.TrimSpace(m.Content) != ""
	})

	results := search.New(docs, s.SearchOptions...).TopK(q, k)
	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		if r.Score < s.SearchThreshold {
			continue
		}
		hits = append(hits, SearchHit{Message: byID[r.ID].View(), Score: r.Score, Snippet: r.Snippet})
	}
	span.SetAttributes(attribute.Int("hits", len(hits)))
	return hits, nil
}

// Get returns a message userID sent or received.
func (s *ConversationService) Get(ctx context.Context, userID, messageID string) (*domain.MessageView, error) {
	m, err := repo.GetMessage(ctx, s.DB, messageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	if m.SenderID != userID && m.RecipientID != userID {
		return nil, ErrMessageNotFound
	}
	v := m.View()
	return &v, nil
}

// SetPinned pins or unpins a message userID sent or received.
func (s *ConversationService) SetPinned(ctx context.Context, userID, messageID string, pinned bool) error {
	if err := repo.SetMessagePinned(ctx, s.DB, messageID, userID, pinned); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	return nil
}

// Delete soft-deletes a message userID sent.
func (s *ConversationService) Delete(ctx context.Context, userID, messageID string) error {
	if err := repo.DeleteMessage(ctx, s.DB, messageID, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	return nil
}

// UnreadCount returns how many messages addressed to userID are unread.
func (s *ConversationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return repo.CountUnread(ctx, s.DB, userID)
}

// UnreadPerConversation returns unread counts keyed by peer id.
func (s *ConversationService) UnreadPerConversation(ctx context.Context, userID string) (map[string]int64, error) {
	return repo.UnreadBySender(ctx, s.DB, userID)
}

func (s *ConversationService) requireUser(ctx context.Context, id string) error {
	if _, err := repo.GetUser(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}
