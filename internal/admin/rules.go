package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/angeloszaimis/rule-proxy/internal/pattern"
	"github.com/angeloszaimis/rule-proxy/internal/ruletable"
)

const maxTimeoutSecs = 3600

type ruleResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Source      string    `json:"source"`
	Target      string    `json:"target"`
	TimeoutSecs float64   `json:"timeout_secs"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toResponse(rule ruletable.Rule) ruleResponse {
	return ruleResponse{
		ID:          rule.ID,
		Name:        rule.Name,
		Source:      rule.Source,
		Target:      rule.Target,
		TimeoutSecs: rule.Timeout.Seconds(),
		Enabled:     rule.Enabled,
		CreatedAt:   rule.CreatedAt,
		UpdatedAt:   rule.UpdatedAt,
	}
}

// ruleRequest is the body of create and update. A missing timeout_secs means
// the proxy default applies; a missing enabled means true on create.
type ruleRequest struct {
	Name        string   `json:"name"`
	Source      string   `json:"source"`
	Target      string   `json:"target"`
	TimeoutSecs *float64 `json:"timeout_secs"`
	Enabled     *bool    `json:"enabled"`
}

func (r ruleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Source, validation.Required, validation.Length(1, 2048)),
		validation.Field(&r.Target, validation.Required, validation.Length(1, 2048)),
		validation.Field(&r.TimeoutSecs, validation.Min(0.0), validation.Max(float64(maxTimeoutSecs))),
	)
}

func (r ruleRequest) rule(id string) ruletable.Rule {
	rule := ruletable.Rule{
		ID:      id,
		Name:    r.Name,
		Source:  r.Source,
		Target:  r.Target,
		Enabled: true,
	}
	if r.TimeoutSecs != nil {
		rule.Timeout = time.Duration(*r.TimeoutSecs * float64(time.Second))
	}
	if r.Enabled != nil {
		rule.Enabled = *r.Enabled
	}
	return rule
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (r toggleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Enabled, validation.NotNil),
	)
}

func (a *API) listRules(w http.ResponseWriter, r *http.Request) {
	rules := a.opts.Table.List()

	out := make([]ruleResponse, len(rules))
	for i, rule := range rules {
		out[i] = toResponse(rule)
	}
	ok(w, http.StatusOK, out)
}

func (a *API) getRule(w http.ResponseWriter, r *http.Request) {
	rule, err := a.opts.Table.Get(r.PathValue("id"))
	if err != nil {
		fail(w, http.StatusNotFound, err.Error())
		return
	}
	ok(w, http.StatusOK, toResponse(rule))
}

func (a *API) createRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	a.upsert(w, r, req.rule(""), http.StatusCreated)
}

func (a *API) updateRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req ruleRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, pending, err := a.opts.Table.Update(id, func(prev ruletable.Rule) ruletable.Rule {
		rule := req.rule(id)
		if req.Enabled == nil {
			rule.Enabled = prev.Enabled
		}
		return rule
	})
	a.saved(w, r, saved, pending, err, http.StatusOK)
}

func (a *API) upsert(w http.ResponseWriter, r *http.Request, rule ruletable.Rule, status int) {
	saved, pending, err := a.opts.Table.Upsert(rule)
	a.saved(w, r, saved, pending, err, status)
}

func (a *API) saved(w http.ResponseWriter, r *http.Request, saved ruletable.Rule, pending *ruletable.Pending, err error, status int) {
	if err != nil {
		var perr *pattern.PatternError
		switch {
		case errors.Is(err, ruletable.ErrRuleNotFound):
			fail(w, http.StatusNotFound, err.Error())
		case errors.As(err, &perr):
			fail(w, http.StatusBadRequest, perr.Error())
		default:
			fail(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	a.logger.Info("Rule saved",
		slog.String("rule_id", saved.ID),
		slog.String("source", saved.Source),
		slog.String("target", saved.Target))

	if !a.persisted(r.Context(), w, pending, toResponse(saved)) {
		return
	}
	ok(w, status, toResponse(saved))
}

func (a *API) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	pending, err := a.opts.Table.Delete(id)
	if err != nil {
		fail(w, http.StatusNotFound, err.Error())
		return
	}
	if a.opts.Metrics != nil {
		a.opts.Metrics.Forget(id)
	}

	a.logger.Info("Rule deleted", slog.String("rule_id", id))

	if !a.persisted(r.Context(), w, pending, nil) {
		return
	}
	ok(w, http.StatusOK, map[string]string{"id": id})
}

func (a *API) toggleRule(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	rule, pending, err := a.opts.Table.SetEnabled(r.PathValue("id"), *req.Enabled)
	if err != nil {
		fail(w, http.StatusNotFound, err.Error())
		return
	}

	a.logger.Info("Rule toggled",
		slog.String("rule_id", rule.ID),
		slog.Bool("enabled", rule.Enabled))

	if !a.persisted(r.Context(), w, pending, toResponse(rule)) {
		return
	}
	ok(w, http.StatusOK, toResponse(rule))
}

// persisted waits for the store write behind an applied change. On failure it
// answers 500 and returns false; the change stays live and is retried by
// reconciliation.
func (a *API) persisted(ctx context.Context, w http.ResponseWriter, pending *ruletable.Pending, data any) bool {
	err := pending.Wait(ctx)
	if err == nil {
		return true
	}

	a.logger.Error("Rule change applied but not persisted", slog.Any("error", err))
	writeJSON(w, http.StatusInternalServerError, envelope{
		Success: false,
		Data:    data,
		Message: "applied in memory, persistence failed: " + err.Error(),
	})
	return false
}
