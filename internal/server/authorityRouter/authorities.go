package authorityRouter

import (
	"encoding/json"
	"net/http"
	"net/url"

	"rwa/engine"
	"rwa/internal/logger"
	"rwa/internal/server/respond"

	"github.com/go-chi/chi/v5"
)

type AuthoritiesGetResponse struct {
	Principals []string `json:"principals"`
	Dynamic    bool     `json:"dynamic"`
}

type AuthorityUpdate struct {
	Principal string `json:"principal"`
}

// AuthorityRouter manages the principals allowed to set any asset's risk.
// Changes are only possible when the set is backed by redis.
func AuthorityRouter(set engine.AuthoritySet, log *logger.Logger) chi.Router {
	router := chi.NewRouter()

	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		principals, err := set.List(r.Context())
		if err != nil {
			log.Error("list risk authorities", "error", err)
			respond.Error(w, err)
			return
		}
		respond.JSON(w, http.StatusOK, AuthoritiesGetResponse{
			Principals: principals,
			Dynamic:    set.Dynamic(),
		})
	})

	router.Put("/", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		var payload AuthorityUpdate
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			respond.BadRequest(w, "invalid JSON payload")
			return
		}

		if err := set.Add(r.Context(), payload.Principal); err != nil {
			respond.Error(w, err)
			return
		}
		log.Info("risk authority added", "principal", payload.Principal)
		w.WriteHeader(http.StatusAccepted)
	})

	router.Delete("/{principal}", func(w http.ResponseWriter, r *http.Request) {
		principal, err := url.PathUnescape(chi.URLParam(r, "principal"))
		if err != nil {
			respond.BadRequest(w, "invalid encoding")
			return
		}

		if err := set.Remove(r.Context(), principal); err != nil {
			respond.Error(w, err)
			return
		}
		log.Info("risk authority removed", "principal", principal)
		w.WriteHeader(http.StatusAccepted)
	})

	return router
}
