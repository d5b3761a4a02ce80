package rest

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/AzielCF/az-wap/pkg/phone"
	domain "github.com/AzielCF/az-wap/store/domain"
	"github.com/AzielCF/az-wap/ui/utils"

	pkgerrors "github.com/AzielCF/az-wap/pkg/errors"
)

// Conversations exposes read-only inspection endpoints over a
// conversation's tail and summary (spec.md §6).
type Conversations struct {
	store domain.Store
}

func InitRestConversations(app fiber.Router, store domain.Store) Conversations {
	rest := Conversations{store: store}
	app.Get("/api/conversations/by-number/:wa_id", rest.GetByNumber)
	app.Get("/api/conversations/:id", rest.GetByID)
	return rest
}

type conversationView struct {
	ID        string             `json:"id"`
	WaID      string             `json:"wa_id"`
	Status    string             `json:"status"`
	StartedBy string             `json:"started_by"`
	StartedAt string             `json:"started_at"`
	LastMsgAt string             `json:"last_msg_at"`
	Summary   string             `json:"summary,omitempty"`
	Messages  []conversationTurn `json:"messages"`
}

type conversationTurn struct {
	Direction string `json:"direction"`
	Kind      string `json:"kind"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// tailLimit caps the inspection view the same way ReplyGenerator caps
// chat history, so an operator never pulls an unbounded conversation.
const tailLimit = 20

func (r *Conversations) GetByID(c *fiber.Ctx) error {
	conv, err := r.store.GetConversation(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return r.render(c, conv)
}

func (r *Conversations) GetByNumber(c *fiber.Ctx) error {
	e164, ok := phone.ToE164(c.Params("wa_id"))
	if !ok {
		return c.Status(400).JSON(utils.ResponseData{Status: 400, Code: "VALIDATION_ERROR", Message: "wa_id has no digits"})
	}

	integ, err := r.store.FindIntegrationByTester(c.UserContext(), e164)
	if err != nil {
		return respondError(c, err)
	}
	conv, err := r.store.LatestConversationByWaID(c.UserContext(), integ.ID, e164)
	if err != nil {
		return respondError(c, err)
	}
	return r.render(c, conv)
}

func (r *Conversations) render(c *fiber.Ctx, conv domain.Conversation) error {
	ctx := c.UserContext()
	tail, err := r.store.TailMessages(ctx, conv.ID, tailLimit)
	if err != nil {
		return respondError(c, err)
	}

	view := conversationView{
		ID:        conv.ID,
		WaID:      conv.WaID,
		Status:    string(conv.Status),
		StartedBy: string(conv.StartedBy),
		StartedAt: conv.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		LastMsgAt: conv.LastMsgAt.Format("2006-01-02T15:04:05Z07:00"),
		Messages:  make([]conversationTurn, 0, len(tail)),
	}
	for _, m := range tail {
		view.Messages = append(view.Messages, conversationTurn{
			Direction: string(m.Direction),
			Kind:      string(m.Kind),
			Text:      m.Text,
			CreatedAt: m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	if summary, found, err := r.store.GetSummary(ctx, conv.ID); err == nil && found {
		view.Summary = summary.Content
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "conversation fetched",
		Results: view,
	})
}

// respondError renders a typed GenericError with its own status/code,
// or falls back to a bare 500 for anything unclassified. ErrNotFound
// specifically maps to 404 since it has no GenericError wrapper.
func respondError(c *fiber.Ctx, err error) error {
	var generic pkgerrors.GenericError
	if errors.As(err, &generic) {
		return c.Status(generic.StatusCode()).JSON(utils.ResponseData{
			Status:  generic.StatusCode(),
			Code:    generic.ErrCode(),
			Message: generic.Error(),
		})
	}
	if errors.Is(err, pkgerrors.ErrNotFound) {
		return c.Status(404).JSON(utils.ResponseData{Status: 404, Code: "NOT_FOUND", Message: err.Error()})
	}
	return c.Status(500).JSON(utils.ResponseData{Status: 500, Code: "INTERNAL_SERVER_ERROR", Message: err.Error()})
}
