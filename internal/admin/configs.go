package admin

import (
	"log/slog"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/angeloszaimis/rule-proxy/internal/direct"
	"github.com/angeloszaimis/rule-proxy/internal/store"
)

type configResponse struct {
	Key       string     `json:"key"`
	Value     string     `json:"value"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type configRequest struct {
	Value string `json:"value"`
}

func (r configRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Value, validation.Required, validation.Length(1, 256)),
	)
}

func (a *API) listConfigs(w http.ResponseWriter, r *http.Request) {
	out := []configResponse{}
	seen := map[string]bool{}

	if a.opts.Settings != nil {
		settings, err := a.opts.Settings.ListSettings(r.Context())
		if err != nil {
			a.logger.Error("Failed to list settings", slog.Any("error", err))
			fail(w, http.StatusInternalServerError, "failed to read settings")
			return
		}
		for _, s := range settings {
			updated := s.UpdatedAt
			out = append(out, configResponse{Key: s.Key, Value: s.Value, UpdatedAt: &updated})
			seen[s.Key] = true
		}
	}

	// the live value wins over a stored one that was never applied
	for i := range out {
		if out[i].Key == store.SettingDirectProxyPath {
			out[i].Value = a.opts.Decoder.Prefix()
		}
	}
	if !seen[store.SettingDirectProxyPath] {
		out = append(out, configResponse{Key: store.SettingDirectProxyPath, Value: a.opts.Decoder.Prefix()})
	}

	ok(w, http.StatusOK, out)
}

func (a *API) updateConfig(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key != store.SettingDirectProxyPath {
		fail(w, http.StatusBadRequest, "unknown or read-only setting: "+key)
		return
	}

	var req configRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	prefix, err := direct.NormalizePrefix(req.Value)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	if a.opts.Settings != nil {
		if err := a.opts.Settings.SetSetting(r.Context(), key, prefix); err != nil {
			a.logger.Error("Failed to store setting",
				slog.String("key", key),
				slog.Any("error", err))
			fail(w, http.StatusInternalServerError, "failed to store setting")
			return
		}
	}

	if err := a.opts.Decoder.SetPrefix(prefix); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	a.logger.Info("Direct proxy prefix changed", slog.String("prefix", prefix))

	ok(w, http.StatusOK, configResponse{Key: key, Value: prefix})
}
