package gormstore

import "time"

// Persistence models. Domain structs stay storage-agnostic; these
// carry the GORM tags, JSON-as-text columns, and indexes of spec.md §3/§4.5.

type tenantModel struct {
	ID   string `gorm:"primaryKey"`
	Name string
}

func (tenantModel) TableName() string { return "tenants" }

type integrationModel struct {
	ID                 string `gorm:"primaryKey"`
	TenantID           string `gorm:"uniqueIndex:idx_integration_tenant_mode,priority:1;index:idx_integration_tenant;not null"`
	Mode               string `gorm:"uniqueIndex:idx_integration_tenant_mode,priority:2;not null"`
	ProviderKeySealed  []byte
	TesterMSISDN       string `gorm:"index:idx_integration_tester"`
	ClientContext      string
	ProjectContext     string
	CustomInstructions string
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (integrationModel) TableName() string { return "integrations" }

type llmConfigModel struct {
	TenantID     string `gorm:"primaryKey"`
	APIKeySealed []byte
	Model        string
	Temperature  float64
	MaxTokens    int
}

func (llmConfigModel) TableName() string { return "llm_configs" }

type conversationModel struct {
	ID            string `gorm:"primaryKey"`
	IntegrationID string `gorm:"index:idx_conversation_integration_wa,priority:1;not null"`
	WaID          string `gorm:"index:idx_conversation_integration_wa,priority:2;not null"`
	StartedBy     string `gorm:"not null"`
	Status        string `gorm:"index:idx_conversation_status_last_msg,priority:1;not null"`
	StartedAt     time.Time `gorm:"not null"`
	LastMsgAt     time.Time `gorm:"index:idx_conversation_status_last_msg,priority:2;not null"`
}

func (conversationModel) TableName() string { return "conversations" }

// The (integration_id, provider_msg_id) at-most-once key is unique
// only when provider_msg_id is non-empty (outbound rows may share "").
// GORM tags can't express a partial index, so it's created manually in
// InitSchema instead of via a uniqueIndex tag here.
type messageModel struct {
	ID             string `gorm:"primaryKey"`
	IntegrationID  string `gorm:"index:idx_message_integration_provider,priority:1;not null"`
	ConversationID string `gorm:"index:idx_message_conversation_created,priority:1;not null"`
	Direction      string `gorm:"not null"`
	WaID           string `gorm:"not null"`
	ProviderMsgID  string `gorm:"index:idx_message_integration_provider,priority:2"`
	Kind           string `gorm:"not null"`
	Text           string
	Payload        []byte
	CreatedAt      time.Time `gorm:"index:idx_message_conversation_created,priority:2;not null"`
}

func (messageModel) TableName() string { return "messages" }

type summaryModel struct {
	ConversationID     string `gorm:"primaryKey"`
	Content            string
	MsgCountAtSnapshot int
	UpdatedAt          time.Time `gorm:"not null"`
}

func (summaryModel) TableName() string { return "summaries" }

type scheduleModel struct {
	TenantID  string `gorm:"primaryKey"`
	Frequency string `gorm:"not null"`
	IsActive  bool   `gorm:"not null;default:true"`
	LastSent  *time.Time
}

func (scheduleModel) TableName() string { return "schedules" }
