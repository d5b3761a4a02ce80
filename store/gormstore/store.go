// Package gormstore implements store/domain.Store on top of GORM,
// against either SQLite or Postgres depending on configuration.
package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	domain "github.com/AzielCF/az-wap/store/domain"

	pkgerrors "github.com/AzielCF/az-wap/pkg/errors"
	"github.com/AzielCF/az-wap/pkg/secretbox"
)

// Store implements domain.Store.
type Store struct {
	db     *gorm.DB
	box    *secretbox.Box
}

// New wraps an open GORM connection. box seals/opens provider and LLM
// API keys; pass a Box with no master key configured to run with
// encryption disabled (ResolveProviderKey/ResolveLLMAPIKey then always
// return ErrCryptoNotReady).
func New(db *gorm.DB, box *secretbox.Box) *Store {
	return &Store{db: db, box: box}
}

// InitSchema runs AutoMigrate for every entity and creates the indexes
// spec.md §4.5 requires that GORM tags can't express directly.
func (s *Store) InitSchema(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(
		&tenantModel{},
		&integrationModel{},
		&llmConfigModel{},
		&conversationModel{},
		&messageModel{},
		&summaryModel{},
		&scheduleModel{},
	); err != nil {
		return err
	}

	// Partial unique index: at most one non-empty provider_msg_id per integration.
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_message_at_most_once
		ON messages (integration_id, provider_msg_id)
		WHERE provider_msg_id <> ''`).Error; err != nil {
		logrus.WithError(err).Warn("[STORE] failed to create partial at-most-once index (non-sqlite/postgres dialect?)")
	}

	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func newID() string { return uuid.New().String() }

// --- Tenants ---

func (s *Store) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	var m tenantModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Tenant{}, pkgerrors.ErrNotFound
		}
		return domain.Tenant{}, err
	}
	return domain.Tenant{ID: m.ID, Name: m.Name}, nil
}

// EnsureTenant creates a Tenant row if absent, for operator/test bootstrapping.
func (s *Store) EnsureTenant(ctx context.Context, id, name string) (domain.Tenant, error) {
	m := tenantModel{ID: id, Name: name}
	if err := s.db.WithContext(ctx).Where("id = ?", id).FirstOrCreate(&m).Error; err != nil {
		return domain.Tenant{}, err
	}
	return domain.Tenant{ID: m.ID, Name: m.Name}, nil
}

// --- Time helper shared by several methods ---

func now() time.Time { return time.Now().UTC() }
