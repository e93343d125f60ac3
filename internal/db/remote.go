package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/dukerupert/trolley/internal/api"
	"github.com/dukerupert/trolley/internal/model"
	"github.com/dukerupert/trolley/internal/queue"
	"github.com/dukerupert/trolley/internal/storage"
)

// Remote is the HTTP-backed Database. Mutations that fail at the network
// layer are mirrored into the mutation queue before the error is returned,
// so they can be replayed once connectivity returns. The queue is a side
// channel: the caller always sees the original failure.
//
// Replays are only armed for network-classified failures, never 5xx. The
// queue itself would happily retry a transient 5xx, but the enqueue site
// keys off "the request never arrived"; see DESIGN.md.
type Remote struct {
	client     *api.Client
	queue      *queue.Queue
	kv         *storage.KV
	bus        *Bus
	appVersion string
	logger     *slog.Logger
}

func NewRemote(client *api.Client, q *queue.Queue, kv *storage.KV, bus *Bus, appVersion string, logger *slog.Logger) *Remote {
	if bus == nil {
		bus = NewBus()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		client:     client,
		queue:      q,
		kv:         kv,
		bus:        bus,
		appVersion: appVersion,
		logger:     logger,
	}
}

// Queue exposes the mutation queue for replay drivers and status surfaces.
func (r *Remote) Queue() *queue.Queue { return r.queue }

// Initialize restores the persisted mutation queue and invalidates cached
// reference tables when the app version changed since the last run.
func (r *Remote) Initialize(ctx context.Context) error {
	if err := r.queue.Load(); err != nil {
		return fmt.Errorf("initialize remote db: %w", err)
	}

	stored, ok, err := r.kv.Get(storage.KeyCoreDataVersion)
	if err != nil {
		return fmt.Errorf("read core data version: %w", err)
	}
	if !ok || stored != r.appVersion {
		if err := r.kv.Delete(storage.KeyUnitsCache); err != nil {
			return fmt.Errorf("invalidate units cache: %w", err)
		}
		if err := r.kv.Set(storage.KeyCoreDataVersion, r.appVersion); err != nil {
			return fmt.Errorf("write core data version: %w", err)
		}
		r.logger.Info("core data caches invalidated", "from", stored, "to", r.appVersion)
	}
	return nil
}

func (r *Remote) Close() error { return nil }

// Reset clears the client's local state: the mutation queue and cached
// reference data. Server-side tables are untouched; naming them in
// tablesToPersist is accepted and a no-op.
func (r *Remote) Reset(ctx context.Context, tablesToPersist []string) error {
	keep := make(map[string]bool, len(tablesToPersist))
	for _, t := range tablesToPersist {
		keep[t] = true
	}
	if !keep[TableQueue] {
		if err := r.queue.Clear(); err != nil {
			return fmt.Errorf("reset queue: %w", err)
		}
	}
	if !keep[TableUnits] {
		if err := r.kv.Delete(storage.KeyUnitsCache); err != nil {
			return fmt.Errorf("reset units cache: %w", err)
		}
	}
	r.bus.NotifyChange()
	return nil
}

func (r *Remote) OnChange(fn func()) func() {
	return r.bus.OnChange(fn)
}

// mutate issues a write, arms the queue on network failure, and pulses the
// change bus on success. The original error is always returned as-is.
func (r *Remote) mutate(ctx context.Context, operation, method, endpoint string, body any) (json.RawMessage, error) {
	raw, err := r.client.Do(ctx, method, endpoint, body)
	if err != nil {
		if api.IsNetworkError(err) {
			if qerr := r.queue.Enqueue(operation, endpoint, method, body); qerr != nil {
				r.logger.Error("failed to queue mutation", "operation", operation, "error", qerr)
			}
		}
		return nil, err
	}
	r.bus.NotifyChange()
	return raw, nil
}

// --- Stores ---

func (r *Remote) ListStores(ctx context.Context) ([]model.Store, error) {
	raw, err := r.client.Get(ctx, "/api/stores")
	if err != nil {
		return nil, err
	}
	var env struct {
		Stores []model.Store `json:"stores"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode stores: %w", err)
	}
	return env.Stores, nil
}

func (r *Remote) GetStore(ctx context.Context, id string) (*model.Store, error) {
	raw, err := r.client.Get(ctx, "/api/stores/"+url.PathEscape(id))
	if err != nil {
		if api.StatusOf(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return decodeStore(raw)
}

func (r *Remote) CreateStore(ctx context.Context, name string) (*model.Store, error) {
	raw, err := r.mutate(ctx, "createStore", http.MethodPost, "/api/stores", map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	return decodeStore(raw)
}

func (r *Remote) UpdateStore(ctx context.Context, id string, p StoreUpdate) (*model.Store, error) {
	endpoint := "/api/stores/" + url.PathEscape(id)
	raw, err := r.mutate(ctx, "updateStore", http.MethodPatch, endpoint, p)
	if err != nil {
		return nil, err
	}
	return decodeStore(raw)
}

func (r *Remote) DeleteStore(ctx context.Context, id string) error {
	endpoint := "/api/stores/" + url.PathEscape(id)
	_, err := r.mutate(ctx, "deleteStore", http.MethodDelete, endpoint, nil)
	return err
}

// --- Aisles ---

func (r *Remote) ListAisles(ctx context.Context, storeID string) ([]model.StoreAisle, error) {
	raw, err := r.client.Get(ctx, storePath(storeID, "aisles"))
	if err != nil {
		return nil, err
	}
	var env struct {
		Aisles []model.StoreAisle `json:"aisles"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode aisles: %w", err)
	}
	return env.Aisles, nil
}

func (r *Remote) CreateAisle(ctx context.Context, storeID, name string) (*model.StoreAisle, error) {
	raw, err := r.mutate(ctx, "createAisle", http.MethodPost, storePath(storeID, "aisles"), map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	return decodeAisle(raw)
}

func (r *Remote) RenameAisle(ctx context.Context, storeID, aisleID, name string) (*model.StoreAisle, error) {
	endpoint := storePath(storeID, "aisles/"+url.PathEscape(aisleID))
	raw, err := r.mutate(ctx, "renameAisle", http.MethodPatch, endpoint, map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	return decodeAisle(raw)
}

func (r *Remote) DeleteAisle(ctx context.Context, storeID, aisleID string) error {
	endpoint := storePath(storeID, "aisles/"+url.PathEscape(aisleID))
	_, err := r.mutate(ctx, "deleteAisle", http.MethodDelete, endpoint, nil)
	return err
}

func (r *Remote) ReorderAisles(ctx context.Context, storeID string, updates []model.SortUpdate) error {
	endpoint := storePath(storeID, "aisles/reorder")
	body := map[string][]model.SortUpdate{"updates": updates}
	_, err := r.mutate(ctx, "reorderAisles", http.MethodPut, endpoint, body)
	return err
}

// --- Sections ---

func (r *Remote) ListSections(ctx context.Context, storeID string) ([]model.StoreSection, error) {
	raw, err := r.client.Get(ctx, storePath(storeID, "sections"))
	if err != nil {
		return nil, err
	}
	var env struct {
		Sections []model.StoreSection `json:"sections"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode sections: %w", err)
	}
	return env.Sections, nil
}

func (r *Remote) CreateSection(ctx context.Context, storeID, aisleID, name string) (*model.StoreSection, error) {
	body := map[string]string{"aisleId": aisleID, "name": name}
	raw, err := r.mutate(ctx, "createSection", http.MethodPost, storePath(storeID, "sections"), body)
	if err != nil {
		return nil, err
	}
	return decodeSection(raw)
}

func (r *Remote) RenameSection(ctx context.Context, storeID, sectionID, name string) (*model.StoreSection, error) {
	endpoint := storePath(storeID, "sections/"+url.PathEscape(sectionID))
	raw, err := r.mutate(ctx, "renameSection", http.MethodPatch, endpoint, map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	return decodeSection(raw)
}

func (r *Remote) DeleteSection(ctx context.Context, storeID, sectionID string) error {
	endpoint := storePath(storeID, "sections/"+url.PathEscape(sectionID))
	_, err := r.mutate(ctx, "deleteSection", http.MethodDelete, endpoint, nil)
	return err
}

func (r *Remote) ReorderSections(ctx context.Context, storeID string, updates []model.SortUpdate) error {
	endpoint := storePath(storeID, "sections/reorder")
	body := map[string][]model.SortUpdate{"updates": updates}
	_, err := r.mutate(ctx, "reorderSections", http.MethodPut, endpoint, body)
	return err
}

// --- Catalog items ---

func (r *Remote) ListItems(ctx context.Context, storeID string) ([]model.StoreItem, error) {
	raw, err := r.client.Get(ctx, storePath(storeID, "items"))
	if err != nil {
		return nil, err
	}
	var env struct {
		Items []model.StoreItem `json:"items"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return env.Items, nil
}

func (r *Remote) InsertItem(ctx context.Context, storeID, name string, aisleID, sectionID *string) (*model.StoreItem, error) {
	aisleID, sectionID = normalizeLocation(aisleID, sectionID)
	body := map[string]any{"name": name, "aisleId": aisleID, "sectionId": sectionID}
	raw, err := r.mutate(ctx, "insertItem", http.MethodPost, storePath(storeID, "items"), body)
	if err != nil {
		return nil, err
	}
	return decodeItem(raw)
}

func (r *Remote) UpdateItem(ctx context.Context, storeID, itemID string, p ItemUpdate) (*model.StoreItem, error) {
	if p.SetLocation {
		p.AisleID, p.SectionID = normalizeLocation(p.AisleID, p.SectionID)
	}
	endpoint := storePath(storeID, "items/"+url.PathEscape(itemID))
	raw, err := r.mutate(ctx, "updateItem", http.MethodPatch, endpoint, updateItemBody(p))
	if err != nil {
		return nil, err
	}
	return decodeItem(raw)
}

func (r *Remote) DeleteItem(ctx context.Context, storeID, itemID string) error {
	endpoint := storePath(storeID, "items/"+url.PathEscape(itemID))
	_, err := r.mutate(ctx, "deleteItem", http.MethodDelete, endpoint, nil)
	return err
}

func (r *Remote) GetOrCreateStoreItemByName(ctx context.Context, storeID, name string, aisleID, sectionID *string) (*model.StoreItem, error) {
	aisleID, sectionID = normalizeLocation(aisleID, sectionID)
	body := map[string]any{"name": name, "aisleId": aisleID, "sectionId": sectionID}
	raw, err := r.mutate(ctx, "getOrCreateItem", http.MethodPost, storePath(storeID, "items/get-or-create"), body)
	if err != nil {
		return nil, err
	}
	return decodeItem(raw)
}

func (r *Remote) SearchStoreItems(ctx context.Context, storeID, term string, limit int) ([]model.StoreItem, error) {
	q := url.Values{}
	q.Set("term", term)
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	raw, err := r.client.Get(ctx, storePath(storeID, "items/search")+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var env struct {
		Items []model.StoreItem `json:"items"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}
	return env.Items, nil
}

// --- Shopping list ---

func (r *Remote) ListShoppingListItems(ctx context.Context, storeID string, includeSnoozed bool) ([]model.ShoppingListItem, error) {
	endpoint := storePath(storeID, "list")
	if includeSnoozed {
		endpoint += "?includeSnoozed=1"
	}
	raw, err := r.client.Get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	var env struct {
		ListItems []model.ShoppingListItem `json:"listItems"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode list items: %w", err)
	}
	return env.ListItems, nil
}

func (r *Remote) UpsertShoppingListItem(ctx context.Context, storeID string, p ShoppingListItemParams) (*model.ShoppingListItem, error) {
	var raw json.RawMessage
	var err error
	if p.ID == "" {
		raw, err = r.mutate(ctx, "createListItem", http.MethodPost, storePath(storeID, "list"), p)
	} else {
		endpoint := storePath(storeID, "list/"+url.PathEscape(p.ID))
		raw, err = r.mutate(ctx, "updateListItem", http.MethodPatch, endpoint, p)
	}
	if err != nil {
		return nil, err
	}
	return decodeListItem(raw)
}

// ToggleShoppingListItemChecked maps a 409 to a structured conflict result
// instead of an error: the server detected a concurrent edit and the caller
// must decide how to reconcile.
func (r *Remote) ToggleShoppingListItemChecked(ctx context.Context, storeID, itemID string, checked bool) (*model.CheckConflict, error) {
	endpoint := storePath(storeID, "list/"+url.PathEscape(itemID)+"/check")
	body := map[string]bool{"isChecked": checked}
	_, err := r.mutate(ctx, "toggleListItemChecked", http.MethodPost, endpoint, body)
	if err == nil {
		return nil, nil
	}

	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		conflict := &model.CheckConflict{ItemID: itemID, Message: apiErr.Message}
		var env struct {
			Conflict *model.CheckConflict `json:"conflict"`
		}
		if jerr := json.Unmarshal(apiErr.Body, &env); jerr == nil && env.Conflict != nil {
			conflict = env.Conflict
		}
		return conflict, nil
	}
	return nil, err
}

func (r *Remote) ClearCheckedShoppingListItems(ctx context.Context, storeID string) (int, error) {
	raw, err := r.mutate(ctx, "clearCheckedListItems", http.MethodPost, storePath(storeID, "list/clear-checked"), nil)
	if err != nil {
		return 0, err
	}
	var env struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, fmt.Errorf("decode clear-checked count: %w", err)
	}
	return env.Count, nil
}

func (r *Remote) DeleteShoppingListItem(ctx context.Context, storeID, itemID string) error {
	endpoint := storePath(storeID, "list/"+url.PathEscape(itemID))
	_, err := r.mutate(ctx, "deleteListItem", http.MethodDelete, endpoint, nil)
	return err
}

func (r *Remote) RemoveShoppingListItem(ctx context.Context, storeID, itemID string) error {
	endpoint := storePath(storeID, "list/"+url.PathEscape(itemID)+"/detach")
	_, err := r.mutate(ctx, "removeListItem", http.MethodDelete, endpoint, nil)
	return err
}

// --- Reference data ---

// ListUnits serves from the local cache when present; otherwise it fetches
// and caches. Initialize drops the cache on app-version change.
func (r *Remote) ListUnits(ctx context.Context) ([]model.QuantityUnit, error) {
	if cached, ok, err := r.kv.Get(storage.KeyUnitsCache); err == nil && ok {
		var units []model.QuantityUnit
		if jerr := json.Unmarshal([]byte(cached), &units); jerr == nil {
			return units, nil
		}
		// Unreadable cache entry: fall through to a refetch.
	}

	raw, err := r.client.Get(ctx, "/api/units")
	if err != nil {
		return nil, err
	}
	var env struct {
		Units []model.QuantityUnit `json:"units"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode units: %w", err)
	}

	if b, err := json.Marshal(env.Units); err == nil {
		if serr := r.kv.Set(storage.KeyUnitsCache, string(b)); serr != nil {
			r.logger.Warn("cache units failed", "error", serr)
		}
	}
	return env.Units, nil
}

// --- helpers ---

func storePath(storeID, rest string) string {
	return "/api/stores/" + url.PathEscape(storeID) + "/" + rest
}

func updateItemBody(p ItemUpdate) map[string]any {
	body := make(map[string]any)
	if p.Name != nil {
		body["name"] = *p.Name
	}
	if p.SetLocation {
		body["aisleId"] = p.AisleID
		body["sectionId"] = p.SectionID
	}
	if p.IsFavorite != nil {
		body["isFavorite"] = *p.IsFavorite
	}
	if p.IsHidden != nil {
		body["isHidden"] = *p.IsHidden
	}
	return body
}

func decodeStore(raw json.RawMessage) (*model.Store, error) {
	var env struct {
		Store *model.Store `json:"store"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode store envelope: %w", err)
	}
	if env.Store == nil {
		return nil, fmt.Errorf("decode store envelope: missing store")
	}
	return env.Store, nil
}

func decodeAisle(raw json.RawMessage) (*model.StoreAisle, error) {
	var env struct {
		Aisle *model.StoreAisle `json:"aisle"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode aisle envelope: %w", err)
	}
	if env.Aisle == nil {
		return nil, fmt.Errorf("decode aisle envelope: missing aisle")
	}
	return env.Aisle, nil
}

func decodeSection(raw json.RawMessage) (*model.StoreSection, error) {
	var env struct {
		Section *model.StoreSection `json:"section"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode section envelope: %w", err)
	}
	if env.Section == nil {
		return nil, fmt.Errorf("decode section envelope: missing section")
	}
	return env.Section, nil
}

func decodeItem(raw json.RawMessage) (*model.StoreItem, error) {
	var env struct {
		Item *model.StoreItem `json:"item"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode item envelope: %w", err)
	}
	if env.Item == nil {
		return nil, fmt.Errorf("decode item envelope: missing item")
	}
	return env.Item, nil
}

func decodeListItem(raw json.RawMessage) (*model.ShoppingListItem, error) {
	var env struct {
		ListItem *model.ShoppingListItem `json:"listItem"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode list item envelope: %w", err)
	}
	if env.ListItem == nil {
		return nil, fmt.Errorf("decode list item envelope: missing list item")
	}
	return env.ListItem, nil
}
