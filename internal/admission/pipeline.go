// Package admission orchestrates the per-request sequence for metered
// API calls: authorize the caller's capability, pre-check the quota,
// and after a successful downstream call settle the account by debiting
// quota and appending a usage event.
package admission

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/amirhdaghestani/openai-api/internal/auth"
	"github.com/amirhdaghestani/openai-api/internal/models"
	"github.com/amirhdaghestani/openai-api/internal/quota"
	"github.com/amirhdaghestani/openai-api/internal/usage"
)

// Action describes one metered operation: the ledger label it accounts
// under, the capability that gates it, and the quota kind it consumes.
type Action struct {
	Endpoint   string
	Capability string
	Quota      quota.Kind
}

// The accounted actions. Each downstream call admits exactly one.
var (
	ActionCompletion     = Action{models.EndpointCompletions, models.CapabilityTextCompletion, quota.KindRequest}
	ActionChatCompletion = Action{models.EndpointChatCompletions, models.CapabilityChatCompletion, quota.KindRequest}
	ActionEmbeddings     = Action{models.EndpointEmbeddings, models.CapabilityEmbeddings, quota.KindRequest}
	ActionFineTune       = Action{models.EndpointFineTunes, models.CapabilityFineTune, quota.KindFineTune}
)

// Pipeline carries the ledger and recorder shared by all requests.
type Pipeline struct {
	ledger   *quota.Ledger
	recorder *usage.Recorder
}

// NewPipeline creates the admission pipeline.
func NewPipeline(ledger *quota.Ledger, recorder *usage.Recorder) *Pipeline {
	return &Pipeline{ledger: ledger, recorder: recorder}
}

// Admit decides whether the caller may issue the action. It checks the
// capability grant and pre-checks the quota so obviously exhausted
// callers are rejected before the downstream call. The pre-check reads
// without reserving; Settle re-validates atomically.
func (p *Pipeline) Admit(ctx context.Context, caller *models.User, action Action) error {
	if err := auth.RequireCapability(caller, action.Capability); err != nil {
		return err
	}
	remaining, errRemaining := p.ledger.Remaining(ctx, caller.UserID, action.Quota)
	if errRemaining != nil {
		return errRemaining
	}
	if remaining < 1 {
		return quota.ErrExceeded(action.Quota)
	}
	return nil
}

// Settle accounts a successfully admitted call: one atomic unit debit
// followed by one usage event. The debit is the authoritative quota
// step; a concurrent racer losing it surfaces as quota-exceeded even
// after a passing pre-check. A record failure after a successful debit
// leaves quota spent with no ledger entry, which is logged at critical
// severity for out-of-band reconciliation and never retried inline.
func (p *Pipeline) Settle(ctx context.Context, caller *models.User, action Action, requestedAt time.Time) error {
	if errDebit := p.ledger.Debit(ctx, caller.UserID, action.Quota, 1); errDebit != nil {
		return errDebit
	}
	if errRecord := p.recorder.Record(ctx, caller.UserID, action.Endpoint, 1, requestedAt); errRecord != nil {
		log.WithError(errRecord).WithFields(log.Fields{
			"user_id":       caller.UserID,
			"endpoint":      action.Endpoint,
			"inconsistency": "debit_without_record",
		}).Error("usage record failed after quota debit")
		return errRecord
	}
	return nil
}

// Reverse undoes a previously settled call: the quota unit is credited
// back and a compensating negative-cost event is appended. Used when a
// fine-tune job is cancelled after admission.
func (p *Pipeline) Reverse(ctx context.Context, userID string, action Action, requestedAt time.Time) error {
	if errCredit := p.ledger.Credit(ctx, userID, action.Quota, 1); errCredit != nil {
		return errCredit
	}
	if errRecord := p.recorder.RecordReversal(ctx, userID, action.Endpoint, 1, requestedAt); errRecord != nil {
		log.WithError(errRecord).WithFields(log.Fields{
			"user_id":       userID,
			"endpoint":      action.Endpoint,
			"inconsistency": "credit_without_record",
		}).Error("usage reversal record failed after quota credit")
		return errRecord
	}
	return nil
}
