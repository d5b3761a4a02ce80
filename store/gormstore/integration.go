package gormstore

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	domain "github.com/AzielCF/az-wap/store/domain"

	"github.com/AzielCF/az-wap/pkg/phone"

	pkgerrors "github.com/AzielCF/az-wap/pkg/errors"
)

func toIntegration(m integrationModel) domain.Integration {
	return domain.Integration{
		ID:                 m.ID,
		TenantID:           m.TenantID,
		Mode:               domain.IntegrationMode(m.Mode),
		ProviderKeySealed:  m.ProviderKeySealed,
		TesterMSISDN:       m.TesterMSISDN,
		ClientContext:      m.ClientContext,
		ProjectContext:     m.ProjectContext,
		CustomInstructions: m.CustomInstructions,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

// UpsertIntegration creates or updates the (tenant, mode) integration,
// sealing a plaintext key if one was provided and never persisting it
// in the clear.
func (s *Store) UpsertIntegration(ctx context.Context, in domain.UpsertIntegrationInput) (domain.Integration, error) {
	var sealed []byte
	if in.ProviderKeyPlain != "" {
		b, err := s.box.Seal(in.ProviderKeyPlain)
		if err != nil {
			return domain.Integration{}, err
		}
		sealed = b
	}

	var existing integrationModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND mode = ?", in.TenantID, string(in.Mode)).
		First(&existing).Error

	ts := now()
	switch {
	case err == nil:
		existing.TesterMSISDN = in.TesterMSISDN
		existing.ClientContext = in.ClientContext
		existing.ProjectContext = in.ProjectContext
		existing.CustomInstructions = in.CustomInstructions
		existing.UpdatedAt = ts
		if sealed != nil {
			existing.ProviderKeySealed = sealed
		}
		if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
			return domain.Integration{}, err
		}
		return toIntegration(existing), nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		m := integrationModel{
			ID:                 newID(),
			TenantID:           in.TenantID,
			Mode:               string(in.Mode),
			ProviderKeySealed:  sealed,
			TesterMSISDN:       in.TesterMSISDN,
			ClientContext:      in.ClientContext,
			ProjectContext:     in.ProjectContext,
			CustomInstructions: in.CustomInstructions,
			CreatedAt:          ts,
			UpdatedAt:          ts,
		}
		if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.Integration{}, pkgerrors.ErrInvariant
			}
			return domain.Integration{}, err
		}
		return toIntegration(m), nil

	default:
		return domain.Integration{}, err
	}
}

// FindIntegrationByTester matches tester_msisdn against +E164, digits,
// and raw forms in that precedence order, to absorb provider variance
// in how `from` gets canonicalized (spec.md §4.5/§9).
func (s *Store) FindIntegrationByTester(ctx context.Context, msisdn string) (domain.Integration, error) {
	candidates := []string{}
	if e164, ok := phone.ToE164(msisdn); ok {
		candidates = append(candidates, e164)
	}
	if digits, ok := phone.ToDigits(msisdn); ok {
		candidates = append(candidates, digits)
	}
	candidates = append(candidates, msisdn)

	var hits []integrationModel
	if err := s.db.WithContext(ctx).Where("tester_msisdn IN ?", candidates).Find(&hits).Error; err != nil {
		return domain.Integration{}, err
	}
	if len(hits) == 0 {
		return domain.Integration{}, pkgerrors.ErrNotFound
	}
	if len(hits) > 1 {
		logrus.Warnf("[STORE] ambiguous tester_msisdn match for %q: %d integrations matched, picking first by canonical-form precedence", msisdn, len(hits))
	}

	byValue := map[string]integrationModel{}
	for _, h := range hits {
		byValue[h.TesterMSISDN] = h
	}
	for _, c := range candidates {
		if m, ok := byValue[c]; ok {
			return toIntegration(m), nil
		}
	}
	return toIntegration(hits[0]), nil
}

func (s *Store) GetIntegration(ctx context.Context, id string) (domain.Integration, error) {
	var m integrationModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Integration{}, pkgerrors.ErrNotFound
		}
		return domain.Integration{}, err
	}
	return toIntegration(m), nil
}

func (s *Store) ListIntegrationsByTenant(ctx context.Context, tenantID string) ([]domain.Integration, error) {
	var ms []integrationModel
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Integration, 0, len(ms))
	for _, m := range ms {
		out = append(out, toIntegration(m))
	}
	return out, nil
}

// ResolveProviderKey opens the Integration's sealed key. A failed open
// (tamper or no master key) never surfaces the ciphertext or a plaintext
// guess — the caller receives only the error.
func (s *Store) ResolveProviderKey(ctx context.Context, integrationID string) (string, error) {
	integ, err := s.GetIntegration(ctx, integrationID)
	if err != nil {
		return "", err
	}
	if len(integ.ProviderKeySealed) == 0 {
		return "", pkgerrors.ErrCryptoNotReady
	}
	return s.box.Open(integ.ProviderKeySealed)
}
