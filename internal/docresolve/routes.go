package docresolve

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the document mapping API routes.
func RegisterRoutes(r chi.Router, store *Store) {
	r.Route("/api/mappings", func(r chi.Router) {
		r.Get("/", handleList(store))
		r.Post("/", handleCreate(store))
		r.Get("/{id}", handleGet(store))
		r.Put("/{id}", handleUpdate(store))
		r.Delete("/{id}", handleDelete(store))
	})
}

func workspaceFrom(r *http.Request) string {
	if ws := r.URL.Query().Get("workspace"); ws != "" {
		return ws
	}
	if ws := r.Header.Get("X-Driftwatch-Workspace"); ws != "" {
		return ws
	}
	return "default"
}

func handleList(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mappings, err := store.ListMappings(workspaceFrom(r))
		if err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
			return
		}
		if mappings == nil {
			mappings = []*Mapping{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mappings)
	}
}

func handleCreate(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m Mapping
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if m.Service == "" && m.Repo == "" && m.ScopePattern == "" {
			http.Error(w, `{"error":"one of service, repo, scope_pattern is required"}`, http.StatusBadRequest)
			return
		}
		if !m.Ignored && m.DocID == "" && !m.AllowPRLink && !m.AllowSearch {
			http.Error(w, `{"error":"mapping without doc_id must allow pr_link or search"}`, http.StatusBadRequest)
			return
		}
		m.WorkspaceID = workspaceFrom(r)

		if err := store.CreateMapping(&m); err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(m)
	}
}

func handleGet(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := store.GetMapping(workspaceFrom(r), chi.URLParam(r, "id"))
		if err == ErrNotFound {
			http.Error(w, `{"error":"mapping not found"}`, http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m)
	}
}

func handleUpdate(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m Mapping
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		m.WorkspaceID = workspaceFrom(r)
		m.ID = chi.URLParam(r, "id")

		if err := store.UpdateMapping(&m); err == ErrNotFound {
			http.Error(w, `{"error":"mapping not found"}`, http.StatusNotFound)
			return
		} else if err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m)
	}
}

func handleDelete(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := store.DeleteMapping(workspaceFrom(r), chi.URLParam(r, "id"))
		if err == ErrNotFound {
			http.Error(w, `{"error":"mapping not found"}`, http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
