package model

import "time"

// SnoozeDateLayout is the calendar-date form used for SnoozedUntil.
const SnoozeDateLayout = "2006-01-02"

// ShoppingListItem is one entry on a store's shared shopping list.
// StoreItemID is nil for free-form "idea" entries with no catalog item.
// CheckedAt is non-nil iff IsChecked is true.
type ShoppingListItem struct {
	ID           string     `json:"id"`
	StoreID      string     `json:"storeId"`
	StoreItemID  *string    `json:"storeItemId"`
	Qty          *float64   `json:"qty"`
	UnitID       *string    `json:"unitId"`
	Notes        string     `json:"notes"`
	IsChecked    bool       `json:"isChecked"`
	CheckedAt    *time.Time `json:"checkedAt"`
	IsIdea       bool       `json:"isIdea"`
	IsUnsure     bool       `json:"isUnsure"`
	IsSample     bool       `json:"isSample"`
	SnoozedUntil *string    `json:"snoozedUntil"`
	CreatedBy    *string    `json:"createdBy"`
	UpdatedBy    *string    `json:"updatedBy"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// IsSnoozed reports whether the item is still hidden from the default view
// at the given moment. The comparison is calendar-date only, evaluated in
// now's location, so an item snoozed until today is visible all day
// regardless of clock time.
func (s *ShoppingListItem) IsSnoozed(now time.Time) bool {
	if s.SnoozedUntil == nil || *s.SnoozedUntil == "" {
		return false
	}
	until, err := time.ParseInLocation(SnoozeDateLayout, *s.SnoozedUntil, now.Location())
	if err != nil {
		return false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return today.Before(until)
}

type QuantityUnit struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Plural    string `json:"plural"`
	SortOrder int    `json:"sortOrder"`
}

// CheckConflict reports a server-detected concurrent edit of a shopping list
// item's checked state. It is a structured result, not an error: the caller
// decides how to reconcile.
type CheckConflict struct {
	ItemID  string            `json:"itemId"`
	Message string            `json:"message"`
	Current *ShoppingListItem `json:"current"`
}
