package core

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Draft actions a user can request against a reconciled fact.
const (
	ActionRefund = "refund"
	ActionCancel = "cancel"
)

// Draft tones.
const (
	ToneNeutral  = "neutral"
	ToneFriendly = "friendly"
	ToneStrict   = "strict"
)

const draftSubject = "Request for Refund / Cancellation"

var draftTemplates = map[string]*template.Template{
	ToneStrict: template.Must(template.New("strict").Parse(`Hello {{.Merchant}} Support,

I am requesting a {{.ActionPhrase}} for the charge of {{.Amount}} on {{.Date}}.
Reason: {{.Reason}}

Please confirm the {{.ActionPhrase}} and any reference number.

Regards,`)),
	ToneFriendly: template.Must(template.New("friendly").Parse(`Hi {{.Merchant}} Team,

Could you please help with a {{.ActionPhrase}} for {{.Amount}} from {{.Date}}?
Reason: {{.Reason}}

Thanks,`)),
	ToneNeutral: template.Must(template.New("neutral").Parse(`Hello {{.Merchant}} Support,

I would like to request a {{.ActionPhrase}} for the charge of {{.Amount}} on {{.Date}}.
Reason: {{.Reason}}

Please confirm once processed.

Thank you,`)),
}

// ActionRequest is a user-approved action against a reconciled fact.
type ActionRequest struct {
	FactID    uuid.UUID
	Action    string
	Reason    string
	Tone      string
	ToAddress string
}

// Composer turns approved actions into draft outbound emails. Template
// rendering always succeeds; the LLM rewrite is best effort on top and a
// failed rewrite returns the template output unchanged. Drafts never
// auto-send.
type Composer struct {
	facts          FactStore
	drafts         DraftStore
	delivery       DeliveryQueue
	llm            LLMClient
	logger         *zap.Logger
	rewriteEnabled bool
	rewriteTimeout time.Duration
}

// NewComposer creates a draft composer. llm may be nil.
func NewComposer(
	facts FactStore,
	drafts DraftStore,
	delivery DeliveryQueue,
	llm LLMClient,
	logger *zap.Logger,
	rewriteEnabled bool,
	rewriteTimeout time.Duration,
) *Composer {
	return &Composer{
		facts:          facts,
		drafts:         drafts,
		delivery:       delivery,
		llm:            llm,
		logger:         logger,
		rewriteEnabled: rewriteEnabled,
		rewriteTimeout: rewriteTimeout,
	}
}

// Compose renders a draft for a user action and persists it in drafted
// status.
func (c *Composer) Compose(ctx context.Context, req ActionRequest) (*DraftEmail, error) {
	fact, err := c.facts.GetFact(ctx, req.FactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fact: %w", err)
	}

	tone := req.Tone
	if _, ok := draftTemplates[tone]; !ok {
		tone = ToneNeutral
	}

	subject, body := renderDraft(fact, req, tone)

	if c.rewriteEnabled && c.llm != nil {
		rewriteCtx, cancel := context.WithTimeout(ctx, c.rewriteTimeout)
		newSubject, newBody, err := c.llm.RewriteDraft(rewriteCtx, subject, body, tone)
		cancel()
		if err != nil {
			c.logger.Warn("Draft rewrite failed, keeping template output", zap.Error(err))
		} else if strings.TrimSpace(newBody) != "" {
			subject, body = newSubject, newBody
		}
	}

	draft := &DraftEmail{
		ID:        uuid.New(),
		FactID:    fact.ID,
		Action:    req.Action,
		ToAddress: req.ToAddress,
		Subject:   subject,
		Body:      body,
		Tone:      tone,
		Status:    DraftDrafted,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.drafts.SaveDraft(ctx, draft); err != nil {
		return nil, fmt.Errorf("failed to save draft: %w", err)
	}
	return draft, nil
}

// Approve freezes a draft's content for sending.
func (c *Composer) Approve(ctx context.Context, draftID uuid.UUID) error {
	d, err := c.drafts.GetDraft(ctx, draftID)
	if err != nil {
		return err
	}
	if d.Status != DraftDrafted {
		return fmt.Errorf("draft %s is %s, only drafted drafts can be approved", draftID, d.Status)
	}
	return c.drafts.UpdateDraftStatus(ctx, draftID, DraftApproved)
}

// RequestSend hands an approved draft to the delivery boundary and records
// the handoff. Transport is stubbed; sent-stub only means delivery was
// requested.
func (c *Composer) RequestSend(ctx context.Context, draftID uuid.UUID) error {
	d, err := c.drafts.GetDraft(ctx, draftID)
	if err != nil {
		return err
	}
	if d.Status != DraftApproved {
		return fmt.Errorf("draft %s is %s, only approved drafts can be sent", draftID, d.Status)
	}
	if err := c.delivery.EnqueueEmail(ctx, d); err != nil {
		return fmt.Errorf("failed to enqueue draft: %w", err)
	}
	return c.drafts.UpdateDraftStatus(ctx, draftID, DraftSentStub)
}

func renderDraft(fact *FinancialFact, req ActionRequest, tone string) (string, string) {
	amount := "the recent charge"
	if !fact.Amount.IsZero() {
		amount = strings.TrimSpace(fact.Currency + " " + fact.Amount.StringFixed(2))
	}
	date := "the recent date"
	if !fact.Date.IsZero() {
		date = fact.Date.Format("2006-01-02")
	}
	merchant := fact.Merchant
	if merchant == "" {
		merchant = "Support"
	}
	actionPhrase := "refund/cancellation"
	if req.Action == ActionCancel {
		actionPhrase = "cancellation"
	}
	reason := req.Reason
	if reason == "" {
		reason = "I no longer use this service."
	}

	var sb strings.Builder
	// Template data is fully controlled; rendering cannot fail.
	_ = draftTemplates[tone].Execute(&sb, map[string]string{
		"Merchant":     merchant,
		"Amount":       amount,
		"Date":         date,
		"Reason":       reason,
		"ActionPhrase": actionPhrase,
	})
	return draftSubject, sb.String()
}
