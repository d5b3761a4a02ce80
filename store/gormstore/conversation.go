package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	domain "github.com/AzielCF/az-wap/store/domain"

	pkgerrors "github.com/AzielCF/az-wap/pkg/errors"
)

func toConversation(m conversationModel) domain.Conversation {
	return domain.Conversation{
		ID:            m.ID,
		IntegrationID: m.IntegrationID,
		WaID:          m.WaID,
		StartedBy:     domain.ConversationStartedBy(m.StartedBy),
		Status:        domain.ConversationStatus(m.Status),
		StartedAt:     m.StartedAt,
		LastMsgAt:     m.LastMsgAt,
	}
}

// OpenOrCreateConversation returns the non-terminal conversation for
// (integration, waID) if one exists, else opens a fresh one in
// StatusOpen. The second return reports whether a new row was created.
func (s *Store) OpenOrCreateConversation(ctx context.Context, integrationID, waID string, startedBy domain.ConversationStartedBy) (domain.Conversation, bool, error) {
	var existing conversationModel
	err := s.db.WithContext(ctx).
		Where("integration_id = ? AND wa_id = ?", integrationID, waID).
		Order("started_at DESC").
		First(&existing).Error

	if err == nil {
		if !domain.ConversationStatus(existing.Status).IsTerminal() {
			return toConversation(existing), false, nil
		}
		// fall through: latest conversation is terminal, open a new one
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Conversation{}, false, err
	}

	ts := now()
	m := conversationModel{
		ID:            newID(),
		IntegrationID: integrationID,
		WaID:          waID,
		StartedBy:     string(startedBy),
		Status:        string(domain.StatusOpen),
		StartedAt:     ts,
		LastMsgAt:     ts,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.Conversation{}, false, err
	}
	return toConversation(m), true, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	var m conversationModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, pkgerrors.ErrNotFound
		}
		return domain.Conversation{}, err
	}
	return toConversation(m), nil
}

func (s *Store) LatestConversationByWaID(ctx context.Context, integrationID, waID string) (domain.Conversation, error) {
	var m conversationModel
	err := s.db.WithContext(ctx).
		Where("integration_id = ? AND wa_id = ?", integrationID, waID).
		Order("started_at DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, pkgerrors.ErrNotFound
		}
		return domain.Conversation{}, err
	}
	return toConversation(m), nil
}

func (s *Store) UpdateConversationStatus(ctx context.Context, id string, status domain.ConversationStatus) error {
	res := s.db.WithContext(ctx).Model(&conversationModel{}).
		Where("id = ?", id).
		Update("status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.ErrNotFound
	}
	return nil
}

func (s *Store) CloseConversation(ctx context.Context, id string) error {
	return s.UpdateConversationStatus(ctx, id, domain.StatusClosed)
}

// ConversationsForEvaluation returns every non-terminal conversation
// belonging to any integration of tenantID, for the periodic evaluator
// sweep (spec.md §4.8).
func (s *Store) ConversationsForEvaluation(ctx context.Context, tenantID string) ([]domain.Conversation, error) {
	var ms []conversationModel
	err := s.db.WithContext(ctx).
		Joins("JOIN integrations ON integrations.id = conversations.integration_id").
		Where("integrations.tenant_id = ? AND conversations.status NOT IN ?", tenantID, []string{string(domain.StatusClosed)}).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Conversation, 0, len(ms))
	for _, m := range ms {
		out = append(out, toConversation(m))
	}
	return out, nil
}

// eligibleOutreachStatuses are the non-terminal statuses the dispatcher
// may pick an outreach target from. CONTINUE is deliberately excluded:
// a conversation mid-exchange with the sales engineer is not due for a
// scheduled nudge (spec.md §4.11).
var eligibleOutreachStatuses = []string{
	string(domain.StatusOpen),
	string(domain.StatusScheduleLater),
	string(domain.StatusEvaluating),
}

// LatestEligibleForOutreach returns the most recently active
// OPEN/SCHEDULE_LATER/EVALUATING conversation for integrationID, if any
// (spec.md §4.11).
func (s *Store) LatestEligibleForOutreach(ctx context.Context, integrationID string) (domain.Conversation, bool, error) {
	var m conversationModel
	err := s.db.WithContext(ctx).
		Where("integration_id = ? AND status IN ?", integrationID, eligibleOutreachStatuses).
		Order("last_msg_at DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return toConversation(m), true, nil
}

// ListStaleEvaluating returns conversations stuck in EVALUATING past a
// crash, for the evaluator to recover (spec.md §7): it infers each
// one's prior status from its summary footer.
func (s *Store) ListStaleEvaluating(ctx context.Context, olderThan time.Time) ([]domain.Conversation, error) {
	var ms []conversationModel
	err := s.db.WithContext(ctx).
		Where("status = ? AND last_msg_at < ?", string(domain.StatusEvaluating), olderThan).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Conversation, 0, len(ms))
	for _, m := range ms {
		out = append(out, toConversation(m))
	}
	return out, nil
}
