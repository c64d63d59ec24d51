package service

import (
	"fmt"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
)

// GuardVerdict is the outcome of an ownership check.
type GuardVerdict string

const (
	GuardOK      GuardVerdict = "ok"
	GuardDiscard GuardVerdict = "discard"
	GuardLocked  GuardVerdict = "locked"
)

// GuardResult reports whether a loaded draft may be edited by the acting user.
type GuardResult struct {
	Verdict  GuardVerdict `json:"verdict"`
	Reason   string       `json:"reason,omitempty"`
	Editable bool         `json:"editable"`
}

// OK reports whether editing may proceed.
func (r GuardResult) OK() bool {
	return r.Verdict == GuardOK
}

// Err converts a failing verdict into the error surfaced to callers.
func (r GuardResult) Err() error {
	switch r.Verdict {
	case GuardDiscard:
		return appErrors.Clone(appErrors.ErrDraftDiscarded, r.Reason)
	case GuardLocked:
		return appErrors.Clone(appErrors.ErrDraftLocked, r.Reason)
	}
	return nil
}

// ValidateOwnership checks that the draft belongs to the acting user and is
// still editable. Ownership failures take precedence over lock failures.
func ValidateOwnership(draft *models.PlanningDraft, actingUserID string) GuardResult {
	if draft == nil {
		return GuardResult{Verdict: GuardDiscard, Reason: "draft could not be loaded; start a new draft"}
	}
	if draft.OwnerID != actingUserID {
		return GuardResult{Verdict: GuardDiscard, Reason: "this draft belongs to another user; start a new draft"}
	}
	if draft.Locked() {
		return GuardResult{
			Verdict: GuardLocked,
			Reason:  fmt.Sprintf("draft is %s and can no longer be edited; delete it and create a new one to make changes", draft.Status),
		}
	}
	return GuardResult{Verdict: GuardOK, Editable: true}
}

// GuardFetchError maps a failed draft read onto a guard result. Authorization
// failures discard the draft; other errors are returned unchanged.
func GuardFetchError(err error) (GuardResult, bool) {
	if err == nil {
		return GuardResult{Verdict: GuardOK, Editable: true}, false
	}
	if appErrors.IsAuthorization(err) || appErrors.HasCode(err, appErrors.ErrNotFound.Code) {
		return GuardResult{Verdict: GuardDiscard, Reason: "access to this draft was refused; start a new draft"}, true
	}
	return GuardResult{}, false
}
