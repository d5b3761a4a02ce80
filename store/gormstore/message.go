package gormstore

import (
	"context"
	"errors"

	"gorm.io/gorm"

	domain "github.com/AzielCF/az-wap/store/domain"

	pkgerrors "github.com/AzielCF/az-wap/pkg/errors"
)

func toMessage(m messageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		IntegrationID:  m.IntegrationID,
		ConversationID: m.ConversationID,
		Direction:      domain.MessageDirection(m.Direction),
		WaID:           m.WaID,
		ProviderMsgID:  m.ProviderMsgID,
		Kind:           domain.MessageKind(m.Kind),
		Text:           m.Text,
		Payload:        m.Payload,
		CreatedAt:      m.CreatedAt,
	}
}

// AppendInboundMessage inserts an inbound message, relying on the
// partial unique index on (integration_id, provider_msg_id) to enforce
// at-most-once delivery when the provider supplies an id. The bool
// return reports whether this call actually inserted a new row; a
// duplicate provider_msg_id returns the existing row with false, not
// an error, since a webhook retry is expected provider behavior.
func (s *Store) AppendInboundMessage(ctx context.Context, in domain.AppendInboundInput) (domain.Message, bool, error) {
	if in.ProviderMsgID != "" {
		var existing messageModel
		err := s.db.WithContext(ctx).
			Where("integration_id = ? AND provider_msg_id = ?", in.IntegrationID, in.ProviderMsgID).
			First(&existing).Error
		if err == nil {
			return toMessage(existing), false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Message{}, false, err
		}
	}

	ts := now()
	m := messageModel{
		ID:             newID(),
		IntegrationID:  in.IntegrationID,
		ConversationID: in.ConversationID,
		Direction:      string(domain.DirectionIn),
		ProviderMsgID:  in.ProviderMsgID,
		Kind:           string(in.Kind),
		Text:           in.Text,
		Payload:        in.Payload,
		CreatedAt:      ts,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			// lost a race against a concurrent insert of the same provider_msg_id
			var existing messageModel
			if ferr := s.db.WithContext(ctx).
				Where("integration_id = ? AND provider_msg_id = ?", in.IntegrationID, in.ProviderMsgID).
				First(&existing).Error; ferr == nil {
				return toMessage(existing), false, nil
			}
			return domain.Message{}, false, pkgerrors.ErrDup
		}
		return domain.Message{}, false, err
	}

	// last_msg_at is monotonically non-decreasing across deliveries
	// (spec.md §8): only a genuine new row touches it.
	if err := s.db.WithContext(ctx).Model(&conversationModel{}).
		Where("id = ? AND last_msg_at < ?", in.ConversationID, ts).
		Update("last_msg_at", ts).Error; err != nil {
		return domain.Message{}, false, err
	}
	return toMessage(m), true, nil
}

// AppendOutboundMessage inserts without a duplicate pre-check: an empty
// ProviderMsgID is shared across outbound rows and is exempt from the
// at-most-once index; a non-empty one already stored for the
// integration makes the insert fail on that index.
func (s *Store) AppendOutboundMessage(ctx context.Context, in domain.AppendOutboundInput) (domain.Message, error) {
	m := messageModel{
		ID:             newID(),
		IntegrationID:  in.IntegrationID,
		ConversationID: in.ConversationID,
		Direction:      string(domain.DirectionOut),
		ProviderMsgID:  in.ProviderMsgID,
		Kind:           string(in.Kind),
		Text:           in.Text,
		Payload:        in.Payload,
		CreatedAt:      now(),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.Message{}, err
	}
	return toMessage(m), nil
}

func (s *Store) LatestMessage(ctx context.Context, conversationID string) (domain.Message, error) {
	var m messageModel
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Message{}, pkgerrors.ErrNotFound
		}
		return domain.Message{}, err
	}
	return toMessage(m), nil
}

// MessagesAfter returns messages beyond afterIndex in conversation
// order, where afterIndex is a 0-based count of rows already seen
// (the caller's Summary.MsgCountAtSnapshot).
func (s *Store) MessagesAfter(ctx context.Context, conversationID string, afterIndex int) ([]domain.Message, error) {
	var ms []messageModel
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Offset(afterIndex).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMessage(m))
	}
	return out, nil
}

func (s *Store) MessageCount(ctx context.Context, conversationID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&messageModel{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *Store) TailMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	var ms []messageModel
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Message, len(ms))
	for i, m := range ms {
		out[len(ms)-1-i] = toMessage(m)
	}
	return out, nil
}
