// Package db defines the uniform entity database over the shopping-list
// domain and its two interchangeable backends: a remote HTTP-backed
// implementation and an in-memory one. Both fire the same change bus and
// keep identical null-vs-error semantics so tests can run against either.
package db

import (
	"context"
	"errors"

	"github.com/dukerupert/trolley/internal/model"
)

// ErrNotFound is returned by mutations that target an absent entity.
// Lookups return nil instead.
var ErrNotFound = errors.New("not found")

// Logical table names accepted by Reset.
const (
	TableStores       = "stores"
	TableAisles       = "aisles"
	TableSections     = "sections"
	TableItems        = "items"
	TableShoppingList = "shopping_list"
	TableUnits        = "units"
	TableQueue        = "queue"
)

// StoreUpdate is a partial store update; nil fields keep their value.
type StoreUpdate struct {
	Name     *string `json:"name,omitempty"`
	IsHidden *bool   `json:"isHidden,omitempty"`
}

// ItemUpdate is a partial catalog item update; nil fields keep their value.
// Location is only rewritten when SetLocation is true, since aisle and
// section are nullable and "clear both" is a valid update.
type ItemUpdate struct {
	Name        *string `json:"name,omitempty"`
	SetLocation bool    `json:"-"`
	AisleID     *string `json:"aisleId"`
	SectionID   *string `json:"sectionId"`
	IsFavorite  *bool   `json:"isFavorite,omitempty"`
	IsHidden    *bool   `json:"isHidden,omitempty"`
}

// ShoppingListItemParams drives UpsertShoppingListItem. An empty ID creates
// a new entry with defaults; a set ID applies a partial update where nil
// fields retain the previous value. Nullable fields are cleared through the
// explicit Clear flags rather than by setting nil.
type ShoppingListItemParams struct {
	ID           string   `json:"id,omitempty"`
	StoreItemID  *string  `json:"storeItemId,omitempty"`
	Qty          *float64 `json:"qty,omitempty"`
	ClearQty     bool     `json:"clearQty,omitempty"`
	UnitID       *string  `json:"unitId,omitempty"`
	ClearUnit    bool     `json:"clearUnit,omitempty"`
	Notes        *string  `json:"notes,omitempty"`
	IsChecked    *bool    `json:"isChecked,omitempty"`
	IsIdea       *bool    `json:"isIdea,omitempty"`
	IsUnsure     *bool    `json:"isUnsure,omitempty"`
	IsSample     *bool    `json:"isSample,omitempty"`
	SnoozedUntil *string  `json:"snoozedUntil,omitempty"`
	ClearSnooze  bool     `json:"clearSnooze,omitempty"`
}

// Database is the uniform CRUD surface over stores, aisles, sections,
// catalog items, and the shopping list.
//
// Semantics shared by all implementations:
//   - Lookups for absent entities return (nil, nil); mutations return an
//     error (ErrNotFound for the in-memory backend, the server's rejection
//     for the remote one).
//   - Every successful mutation fires a change notification.
//   - Remote mutations that fail at the network layer are mirrored into the
//     mutation queue before the error is returned; the caller always sees
//     the original failure.
type Database interface {
	Initialize(ctx context.Context) error
	Close() error
	// Reset wipes local state except the named logical tables.
	Reset(ctx context.Context, tablesToPersist []string) error

	OnChange(fn func()) (unsubscribe func())

	ListStores(ctx context.Context) ([]model.Store, error)
	GetStore(ctx context.Context, id string) (*model.Store, error)
	CreateStore(ctx context.Context, name string) (*model.Store, error)
	UpdateStore(ctx context.Context, id string, p StoreUpdate) (*model.Store, error)
	DeleteStore(ctx context.Context, id string) error

	ListAisles(ctx context.Context, storeID string) ([]model.StoreAisle, error)
	CreateAisle(ctx context.Context, storeID, name string) (*model.StoreAisle, error)
	RenameAisle(ctx context.Context, storeID, aisleID, name string) (*model.StoreAisle, error)
	DeleteAisle(ctx context.Context, storeID, aisleID string) error
	ReorderAisles(ctx context.Context, storeID string, updates []model.SortUpdate) error

	ListSections(ctx context.Context, storeID string) ([]model.StoreSection, error)
	CreateSection(ctx context.Context, storeID, aisleID, name string) (*model.StoreSection, error)
	RenameSection(ctx context.Context, storeID, sectionID, name string) (*model.StoreSection, error)
	DeleteSection(ctx context.Context, storeID, sectionID string) error
	ReorderSections(ctx context.Context, storeID string, updates []model.SortUpdate) error

	ListItems(ctx context.Context, storeID string) ([]model.StoreItem, error)
	InsertItem(ctx context.Context, storeID, name string, aisleID, sectionID *string) (*model.StoreItem, error)
	UpdateItem(ctx context.Context, storeID, itemID string, p ItemUpdate) (*model.StoreItem, error)
	DeleteItem(ctx context.Context, storeID, itemID string) error
	GetOrCreateStoreItemByName(ctx context.Context, storeID, name string, aisleID, sectionID *string) (*model.StoreItem, error)
	SearchStoreItems(ctx context.Context, storeID, term string, limit int) ([]model.StoreItem, error)

	ListShoppingListItems(ctx context.Context, storeID string, includeSnoozed bool) ([]model.ShoppingListItem, error)
	UpsertShoppingListItem(ctx context.Context, storeID string, p ShoppingListItemParams) (*model.ShoppingListItem, error)
	ToggleShoppingListItemChecked(ctx context.Context, storeID, itemID string, checked bool) (*model.CheckConflict, error)
	ClearCheckedShoppingListItems(ctx context.Context, storeID string) (int, error)
	DeleteShoppingListItem(ctx context.Context, storeID, itemID string) error
	RemoveShoppingListItem(ctx context.Context, storeID, itemID string) error

	ListUnits(ctx context.Context) ([]model.QuantityUnit, error)
}
