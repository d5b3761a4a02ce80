package gormstore

import (
	"context"
	"errors"

	"gorm.io/gorm"

	domain "github.com/AzielCF/az-wap/store/domain"
)

func toSummary(m summaryModel) domain.Summary {
	return domain.Summary{
		ConversationID:     m.ConversationID,
		Content:            m.Content,
		MsgCountAtSnapshot: m.MsgCountAtSnapshot,
		UpdatedAt:          m.UpdatedAt,
	}
}

func (s *Store) GetSummary(ctx context.Context, conversationID string) (domain.Summary, bool, error) {
	var m summaryModel
	err := s.db.WithContext(ctx).First(&m, "conversation_id = ?", conversationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Summary{}, false, nil
		}
		return domain.Summary{}, false, err
	}
	return toSummary(m), true, nil
}

func (s *Store) UpsertSummary(ctx context.Context, conversationID, content string, msgCount int) (domain.Summary, error) {
	var existing summaryModel
	err := s.db.WithContext(ctx).First(&existing, "conversation_id = ?", conversationID).Error
	switch {
	case err == nil:
		existing.Content = content
		existing.MsgCountAtSnapshot = msgCount
		existing.UpdatedAt = now()
		if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
			return domain.Summary{}, err
		}
		return toSummary(existing), nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		m := summaryModel{
			ConversationID:     conversationID,
			Content:            content,
			MsgCountAtSnapshot: msgCount,
			UpdatedAt:          now(),
		}
		if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
			return domain.Summary{}, err
		}
		return toSummary(m), nil

	default:
		return domain.Summary{}, err
	}
}
