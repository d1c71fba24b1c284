// Package httpapi is the thin net/http surface exposing lab lifecycle
// and prepull-status endpoints under /nublado/spawner/v1. Scope
// validation is delegated to Identity; no router library is used.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-kit/log"

	"github.com/sqre-io/labcontroller/pkg/events"
	"github.com/sqre-io/labcontroller/pkg/inventory"
	"github.com/sqre-io/labcontroller/pkg/lab"
	"github.com/sqre-io/labcontroller/pkg/menu"
	"github.com/sqre-io/labcontroller/pkg/usermap"
)

// API bundles every collaborator the HTTP layer calls into.
type API struct {
	Users    *usermap.Map
	Manager  *lab.Manager
	Broker   *events.Broker
	Inv      *inventory.Inventory
	MenuCfg  menu.Config
	Identity Identity
	Logger   log.Logger
}

const basePath = "/nublado/spawner/v1"

// NewMux builds the full HTTP surface.
func (a *API) NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(basePath+"/labs", a.withAuth(a.handleLabsCollection, "admin"))
	mux.HandleFunc(basePath+"/labs/", a.handleLabsItem) // dispatches by suffix, scope varies
	mux.HandleFunc(basePath+"/user-status", a.withAuth(a.handleUserStatus, "user"))
	mux.HandleFunc(basePath+"/images", a.withAuth(a.handleImages, "admin"))
	mux.HandleFunc(basePath+"/prepulls", a.withAuth(a.handlePrepulls, "admin"))
	mux.HandleFunc(basePath+"/lab-form/", a.handleLabForm)
	return mux
}

// handleLabsItem dispatches /labs/{u}, /labs/{u}/create, /labs/{u}/events
// by suffix, since each needs a different scope and method.
func (a *API) handleLabsItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, basePath+"/labs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	username := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		a.withAuth(func(w http.ResponseWriter, r *http.Request) { a.handleGetLab(w, r, username) }, "admin")(w, r)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		a.withAuth(func(w http.ResponseWriter, r *http.Request) { a.handleDeleteLab(w, r, username) }, "admin")(w, r)
	case len(parts) == 2 && parts[1] == "create" && r.Method == http.MethodPost:
		a.withAuth(func(w http.ResponseWriter, r *http.Request) { a.handleCreateLab(w, r, username) }, "user")(w, r)
	case len(parts) == 2 && parts[1] == "events" && r.Method == http.MethodGet:
		a.withAuth(func(w http.ResponseWriter, r *http.Request) { a.handleEvents(w, r, username) }, "user")(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (a *API) handleLabForm(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimPrefix(r.URL.Path, basePath+"/lab-form/")
	a.withAuth(func(w http.ResponseWriter, r *http.Request) { a.handleLabFormUser(w, r, username) }, "user")(w, r)
}
