package gormstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	domain "github.com/AzielCF/az-wap/store/domain"

	"github.com/AzielCF/az-wap/pkg/secretbox"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	box, err := secretbox.New("test-master-key")
	require.NoError(t, err)

	s := New(db, box)
	require.NoError(t, s.InitSchema(context.Background()))
	return s
}

func TestAppendInboundMessage_AtMostOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.EnsureTenant(ctx, "tenant-1", "Acme")
	require.NoError(t, err)

	integ, err := s.UpsertIntegration(ctx, domain.UpsertIntegrationInput{
		TenantID:         "tenant-1",
		Mode:             domain.ModeSandbox,
		ProviderKeyPlain: "sandbox-key",
		TesterMSISDN:     "+15551234567",
	})
	require.NoError(t, err)

	conv, created, err := s.OpenOrCreateConversation(ctx, integ.ID, "+15559876543", domain.StartedByContact)
	require.NoError(t, err)
	assert.True(t, created)

	in := domain.AppendInboundInput{
		IntegrationID:  integ.ID,
		ConversationID: conv.ID,
		ProviderMsgID:  "wamid.ABC123",
		Kind:           domain.KindText,
		Text:           "hello",
	}

	first, inserted, err := s.AppendInboundMessage(ctx, in)
	require.NoError(t, err)
	assert.True(t, inserted)

	second, insertedAgain, err := s.AppendInboundMessage(ctx, in)
	require.NoError(t, err)
	assert.False(t, insertedAgain)
	assert.Equal(t, first.ID, second.ID)

	count, err := s.MessageCount(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAppendInboundMessage_EmptyProviderIDNeverDeduped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.EnsureTenant(ctx, "tenant-1", "Acme")
	require.NoError(t, err)
	integ, err := s.UpsertIntegration(ctx, domain.UpsertIntegrationInput{
		TenantID: "tenant-1",
		Mode:     domain.ModeSandbox,
	})
	require.NoError(t, err)
	conv, _, err := s.OpenOrCreateConversation(ctx, integ.ID, "+15559876543", domain.StartedByContact)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, inserted, err := s.AppendInboundMessage(ctx, domain.AppendInboundInput{
			IntegrationID:  integ.ID,
			ConversationID: conv.ID,
			Kind:           domain.KindText,
			Text:           "no provider id",
		})
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	count, err := s.MessageCount(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestOpenOrCreateConversation_ReusesNonTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureTenant(ctx, "tenant-1", "Acme")
	require.NoError(t, err)
	integ, err := s.UpsertIntegration(ctx, domain.UpsertIntegrationInput{TenantID: "tenant-1", Mode: domain.ModeSandbox})
	require.NoError(t, err)

	first, created1, err := s.OpenOrCreateConversation(ctx, integ.ID, "+15559876543", domain.StartedByContact)
	require.NoError(t, err)
	assert.True(t, created1)

	second, created2, err := s.OpenOrCreateConversation(ctx, integ.ID, "+15559876543", domain.StartedByContact)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, first.ID, second.ID)

	require.NoError(t, s.CloseConversation(ctx, first.ID))

	third, created3, err := s.OpenOrCreateConversation(ctx, integ.ID, "+15559876543", domain.StartedByContact)
	require.NoError(t, err)
	assert.True(t, created3)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestFindIntegrationByTester_CanonicalPrecedence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureTenant(ctx, "tenant-1", "Acme")
	require.NoError(t, err)

	_, err = s.UpsertIntegration(ctx, domain.UpsertIntegrationInput{
		TenantID:     "tenant-1",
		Mode:         domain.ModeSandbox,
		TesterMSISDN: "+15551234567",
	})
	require.NoError(t, err)

	found, err := s.FindIntegrationByTester(ctx, "+1 (555) 123-4567")
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", found.TesterMSISDN)

	_, err = s.FindIntegrationByTester(ctx, "+19990000000")
	assert.Error(t, err)
}

func TestResolveProviderKey_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureTenant(ctx, "tenant-1", "Acme")
	require.NoError(t, err)

	integ, err := s.UpsertIntegration(ctx, domain.UpsertIntegrationInput{
		TenantID:         "tenant-1",
		Mode:             domain.ModeProd,
		ProviderKeyPlain: "super-secret-key",
	})
	require.NoError(t, err)

	key, err := s.ResolveProviderKey(ctx, integ.ID)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-key", key)
}

func TestAdvanceScheduleLastSent_ConditionalWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureTenant(ctx, "tenant-1", "Acme")
	require.NoError(t, err)

	_, err = s.UpsertSchedule(ctx, domain.Schedule{
		TenantID:  "tenant-1",
		Frequency: domain.FrequencyDaily,
		IsActive:  true,
	})
	require.NoError(t, err)

	now1 := time.Now().UTC()
	ok, err := s.AdvanceScheduleLastSent(ctx, "tenant-1", nil, now1)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second racer still holding the stale "nil" prior must lose.
	now2 := now1.Add(time.Second)
	ok, err = s.AdvanceScheduleLastSent(ctx, "tenant-1", nil, now2)
	require.NoError(t, err)
	assert.False(t, ok)

	sch, found, err := s.GetSchedule(ctx, "tenant-1")
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, sch.LastSent)
	assert.True(t, sch.LastSent.Truncate(time.Second).Equal(now1.Truncate(time.Second)))
}

func TestDueSchedules_RespectsPeriod(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureTenant(ctx, "tenant-1", "Acme")
	require.NoError(t, err)

	past := time.Now().UTC().Add(-2 * time.Minute)
	_, err = s.UpsertSchedule(ctx, domain.Schedule{
		TenantID:  "tenant-1",
		Frequency: domain.FrequencyMinute,
		IsActive:  true,
		LastSent:  &past,
	})
	require.NoError(t, err)

	due, err := s.DueSchedules(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "tenant-1", due[0].ID)

	future := time.Now().UTC()
	_, err = s.UpsertSchedule(ctx, domain.Schedule{
		TenantID:  "tenant-1",
		Frequency: domain.FrequencyDaily,
		IsActive:  true,
		LastSent:  &future,
	})
	require.NoError(t, err)

	due, err = s.DueSchedules(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, due, 0)
}
