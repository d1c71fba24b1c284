package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-kit/log/level"

	"github.com/sqre-io/labcontroller/pkg/inventory"
	"github.com/sqre-io/labcontroller/pkg/lab"
	"github.com/sqre-io/labcontroller/pkg/menu"
	"github.com/sqre-io/labcontroller/pkg/usermap"
)

type ctxKey int

const ctxKeyUser ctxKey = iota

// withAuth resolves the bearer token via Identity, checks the required
// scope, and stashes the token's username in the request context for
// handlers that need it (create, events, user-status).
func (a *API) withAuth(next http.HandlerFunc, scope string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusForbidden)
			return
		}
		username, scopes, err := a.Identity.UserInfo(r.Context(), token)
		if err != nil {
			level.Warn(a.Logger).Log("msg", "httpapi: identity lookup failed", "err", err)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if !hasScope(scopes, scope) {
			http.Error(w, "forbidden: missing scope "+scope, http.StatusForbidden)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUser, username)
		next(w, r.WithContext(ctx))
	}
}

func tokenUser(r *http.Request) string {
	u, _ := r.Context().Value(ctxKeyUser).(string)
	return u
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) handleLabsCollection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Users.Running())
}

func (a *API) handleGetLab(w http.ResponseWriter, r *http.Request, username string) {
	rec, err := a.Users.Get(username)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := a.Users.Get(tokenUser(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// labSpecificationJSON mirrors the lab creation request body: spawn
// options, environment overrides, and an optional per-lab quota override.
type labSpecificationJSON struct {
	Options struct {
		Debug        bool   `json:"debug"`
		Image        string `json:"image"`
		ResetUserEnv bool   `json:"resetUserEnv"`
		Size         string `json:"size"`
	} `json:"options"`
	Env            map[string]string `json:"env"`
	NamespaceQuota *struct {
		CPU    string `json:"cpu"`
		Memory string `json:"memory"`
	} `json:"namespaceQuota"`
}

func (a *API) handleCreateLab(w http.ResponseWriter, r *http.Request, username string) {
	if username != tokenUser(r) {
		http.Error(w, "forbidden: username mismatch", http.StatusForbidden)
		return
	}
	var body labSpecificationJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	spec := usermap.LabSpec{
		Image: body.Options.Image, Size: body.Options.Size,
		Debug: body.Options.Debug, ResetUserEnv: body.Options.ResetUserEnv,
		Env: body.Env,
	}
	if body.NamespaceQuota != nil {
		spec.NamespaceQuota = &usermap.Resources{
			CPULimit:    body.NamespaceQuota.CPU,
			MemoryLimit: body.NamespaceQuota.Memory,
		}
	}
	user := usermap.User{Username: username}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	err := a.Manager.Create(r.Context(), user, spec, token)
	if err != nil {
		var exists usermap.ErrAlreadyExists
		switch {
		case errors.As(err, &exists):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Location", fmt.Sprintf("%s/labs/%s", basePath, username))
	w.WriteHeader(http.StatusSeeOther)
}

func (a *API) handleDeleteLab(w http.ResponseWriter, r *http.Request, username string) {
	err := a.Manager.Delete(r.Context(), username)
	if err != nil {
		var nf lab.NotFound
		if errors.As(err, &nf) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request, username string) {
	if username != tokenUser(r) {
		http.Error(w, "forbidden: username mismatch", http.StatusForbidden)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := a.Broker.Publish(username)
	for {
		select {
		case e, ok := <-stream:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Category, e.Data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (a *API) handleImages(w http.ResponseWriter, r *http.Request) {
	snap, err := a.Inv.Snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	m, all := menu.Select(snap, a.MenuCfg)
	writeJSON(w, http.StatusOK, struct {
		Menu []menu.Entry      `json:"menu"`
		All  map[string]string `json:"all"`
	}{Menu: m.Entries, All: flattenAll(all)})
}

func (a *API) handlePrepulls(w http.ResponseWriter, r *http.Request) {
	snap, err := a.Inv.Snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	eligible := snap.EligibleNodeNames()
	candidates := menu.SelectAll(snap, a.MenuCfg)
	type perImage struct {
		Tag     string   `json:"tag"`
		Present []string `json:"present"`
		Missing []string `json:"missing"`
	}
	var out []perImage
	for _, c := range candidates {
		out = append(out, perImage{
			Tag:     c.Tag,
			Present: nodeNames(c.Image.Nodes),
			Missing: c.Image.MissingNodes(eligible),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleLabFormUser(w http.ResponseWriter, r *http.Request, username string) {
	snap, err := a.Inv.Snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	m, _ := menu.Select(snap, a.MenuCfg)
	writeJSON(w, http.StatusOK, struct {
		Menu []menu.Entry `json:"menu"`
	}{Menu: m.Entries})
}

// flattenAll projects the raw tag->image map into raw tag->digest, the
// shape the spawner form dropdown actually needs.
func flattenAll(all map[string]*inventory.NodeImage) map[string]string {
	out := make(map[string]string, len(all))
	for raw, img := range all {
		out[raw] = img.Digest
	}
	return out
}

func nodeNames(nodes map[string]bool) []string {
	var out []string
	for n := range nodes {
		out = append(out, n)
	}
	return out
}
