package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/reqtrace/internal/httpserver"
	"github.com/keithlinneman/reqtrace/internal/log"
	"github.com/keithlinneman/reqtrace/internal/xerrors"
)

// Item is a catalog entry.
type Item struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

var itemID = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// catalog is an in-memory item store
type catalog struct {
	mu    sync.RWMutex
	items map[string]Item
}

func newCatalog() *catalog {
	now := time.Now().UTC().Truncate(time.Second)
	c := &catalog{items: make(map[string]Item)}
	for _, it := range []Item{
		{ID: "widget", Name: "Widget", CreatedAt: now},
		{ID: "gadget", Name: "Gadget", CreatedAt: now},
	} {
		c.items[it.ID] = it
	}
	return c
}

func (c *catalog) get(id string) (Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[id]
	return it, ok
}

// add stores it unless the id is taken
func (c *catalog) add(it Item) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[it.ID]; ok {
		return false
	}
	c.items[it.ID] = it
	return true
}

func (c *catalog) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// HandleGetItem serves one item, 404 when unknown
func (api *API) HandleGetItem(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("item.id", id))

	it, ok := api.items.get(id)
	if !ok {
		return httpserver.Errorf(http.StatusNotFound, "item %q not found", id)
	}
	return api.writeJSON(ctx, w, http.StatusOK, it)
}

type createItemRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HandleCreateItem adds an item from a JSON body
func (api *API) HandleCreateItem(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	var req createItemRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var mb *http.MaxBytesError
		if errors.As(err, &mb) {
			return xerrors.Wrap(err, "decode item")
		}
		return &httpserver.StatusError{Status: http.StatusBadRequest, Err: xerrors.Wrap(err, "decode item")}
	}
	if !itemID.MatchString(req.ID) {
		return httpserver.Errorf(http.StatusBadRequest, "invalid item id %q", req.ID)
	}
	if req.Name == "" {
		return httpserver.Errorf(http.StatusBadRequest, "item name required")
	}

	it := Item{ID: req.ID, Name: req.Name, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	if !api.items.add(it) {
		return httpserver.Errorf(http.StatusConflict, "item %q exists", it.ID)
	}
	log.FromContext(ctx).Info(ctx, "item created", "item.id", it.ID, "items", api.items.len())

	w.Header().Set("Location", "/api/v1/items/"+it.ID)
	return api.writeJSON(ctx, w, http.StatusCreated, it)
}
