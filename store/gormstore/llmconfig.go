package gormstore

import (
	"context"
	"errors"

	"gorm.io/gorm"

	domain "github.com/AzielCF/az-wap/store/domain"

	pkgerrors "github.com/AzielCF/az-wap/pkg/errors"
)

func toLLMConfig(m llmConfigModel) domain.LLMConfig {
	return domain.LLMConfig{
		TenantID:     m.TenantID,
		APIKeySealed: m.APIKeySealed,
		Model:        domain.LLMModelTier(m.Model),
		Temperature:  m.Temperature,
		MaxTokens:    m.MaxTokens,
	}
}

func (s *Store) GetLLMConfig(ctx context.Context, tenantID string) (domain.LLMConfig, error) {
	var m llmConfigModel
	if err := s.db.WithContext(ctx).First(&m, "tenant_id = ?", tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.LLMConfig{}, pkgerrors.ErrNotFound
		}
		return domain.LLMConfig{}, err
	}
	return toLLMConfig(m), nil
}

// UpsertLLMConfig seals apiKeyPlain when provided, leaving the existing
// sealed key untouched otherwise.
func (s *Store) UpsertLLMConfig(ctx context.Context, cfg domain.LLMConfig, apiKeyPlain string) (domain.LLMConfig, error) {
	var sealed []byte
	if apiKeyPlain != "" {
		b, err := s.box.Seal(apiKeyPlain)
		if err != nil {
			return domain.LLMConfig{}, err
		}
		sealed = b
	}

	var existing llmConfigModel
	err := s.db.WithContext(ctx).First(&existing, "tenant_id = ?", cfg.TenantID).Error
	switch {
	case err == nil:
		existing.Model = string(cfg.Model)
		existing.Temperature = cfg.Temperature
		existing.MaxTokens = cfg.MaxTokens
		if sealed != nil {
			existing.APIKeySealed = sealed
		}
		if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
			return domain.LLMConfig{}, err
		}
		return toLLMConfig(existing), nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		m := llmConfigModel{
			TenantID:     cfg.TenantID,
			APIKeySealed: sealed,
			Model:        string(cfg.Model),
			Temperature:  cfg.Temperature,
			MaxTokens:    cfg.MaxTokens,
		}
		if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
			return domain.LLMConfig{}, err
		}
		return toLLMConfig(m), nil

	default:
		return domain.LLMConfig{}, err
	}
}

func (s *Store) ResolveLLMAPIKey(ctx context.Context, tenantID string) (string, error) {
	cfg, err := s.GetLLMConfig(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if len(cfg.APIKeySealed) == 0 {
		return "", pkgerrors.ErrCryptoNotReady
	}
	return s.box.Open(cfg.APIKeySealed)
}
