package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/AzielCF/az-wap/store/domain"
)

func toSchedule(m scheduleModel) domain.Schedule {
	return domain.Schedule{
		TenantID:  m.TenantID,
		Frequency: domain.ScheduleFrequency(m.Frequency),
		IsActive:  m.IsActive,
		LastSent:  m.LastSent,
	}
}

func (s *Store) GetSchedule(ctx context.Context, tenantID string) (domain.Schedule, bool, error) {
	var m scheduleModel
	err := s.db.WithContext(ctx).First(&m, "tenant_id = ?", tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Schedule{}, false, nil
		}
		return domain.Schedule{}, false, err
	}
	return toSchedule(m), true, nil
}

func (s *Store) UpsertSchedule(ctx context.Context, sch domain.Schedule) (domain.Schedule, error) {
	var existing scheduleModel
	err := s.db.WithContext(ctx).First(&existing, "tenant_id = ?", sch.TenantID).Error
	switch {
	case err == nil:
		existing.Frequency = string(sch.Frequency)
		existing.IsActive = sch.IsActive
		existing.LastSent = sch.LastSent
		if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
			return domain.Schedule{}, err
		}
		return toSchedule(existing), nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		m := scheduleModel{
			TenantID:  sch.TenantID,
			Frequency: string(sch.Frequency),
			IsActive:  sch.IsActive,
			LastSent:  sch.LastSent,
		}
		if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
			return domain.Schedule{}, err
		}
		return toSchedule(m), nil

	default:
		return domain.Schedule{}, err
	}
}

// DueSchedules returns every tenant whose active schedule is due at now,
// per domain.Schedule.NextRunAt.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]domain.Tenant, error) {
	var ms []scheduleModel
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&ms).Error; err != nil {
		return nil, err
	}

	var tenantIDs []string
	for _, m := range ms {
		sch := toSchedule(m)
		next, enabled := sch.NextRunAt(now)
		if enabled && !next.After(now) {
			tenantIDs = append(tenantIDs, m.TenantID)
		}
	}
	if len(tenantIDs) == 0 {
		return nil, nil
	}

	var tms []tenantModel
	if err := s.db.WithContext(ctx).Where("id IN ?", tenantIDs).Find(&tms).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Tenant, 0, len(tms))
	for _, t := range tms {
		out = append(out, domain.Tenant{ID: t.ID, Name: t.Name})
	}
	return out, nil
}

// AdvanceScheduleLastSent performs the conditional write
// `last_sent = now() WHERE last_sent == prior`, guarding against two
// scheduler ticks racing to dispatch the same tenant twice. Comparison
// is microsecond-insensitive since sqlite/postgres round timestamps
// differently on round-trip. Returns false, without error, when prior
// no longer matches — the caller should treat that as "already advanced
// by someone else" and skip the send.
func (s *Store) AdvanceScheduleLastSent(ctx context.Context, tenantID string, prior *time.Time, at time.Time) (bool, error) {
	advanced := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m scheduleModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&m, "tenant_id = ?", tenantID).Error; err != nil {
			return err
		}
		if !sameInstant(m.LastSent, prior) {
			return nil
		}
		m.LastSent = &at
		if err := tx.Save(&m).Error; err != nil {
			return err
		}
		advanced = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return advanced, nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Truncate(time.Second).Equal(b.Truncate(time.Second))
}
