package model

import "time"

type Store struct {
	ID          string    `json:"id"`
	HouseholdID *string   `json:"householdId"`
	Name        string    `json:"name"`
	IsHidden    bool      `json:"isHidden"`
	CreatedBy   *string   `json:"createdBy"`
	UpdatedBy   *string   `json:"updatedBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type StoreAisle struct {
	ID        string    `json:"id"`
	StoreID   string    `json:"storeId"`
	Name      string    `json:"name"`
	SortOrder int       `json:"sortOrder"`
	CreatedBy *string   `json:"createdBy"`
	UpdatedBy *string   `json:"updatedBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type StoreSection struct {
	ID        string    `json:"id"`
	StoreID   string    `json:"storeId"`
	AisleID   string    `json:"aisleId"`
	Name      string    `json:"name"`
	SortOrder int       `json:"sortOrder"`
	CreatedBy *string   `json:"createdBy"`
	UpdatedBy *string   `json:"updatedBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SortUpdate assigns one entity its new position within a reordered scope.
// Callers supply a complete, dense, 0-based ordering for the whole scope.
type SortUpdate struct {
	ID        string `json:"id"`
	SortOrder int    `json:"sortOrder"`
}
