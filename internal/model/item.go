package model

import "time"

// StoreItem is a catalog entry for one store. NormalizedName is the
// lowercased, singularized form of Name used for dedup matching.
// AisleID and SectionID are mutually exclusive: when SectionID is set,
// AisleID is stored nil and the aisle is derived via the section.
type StoreItem struct {
	ID             string     `json:"id"`
	StoreID        string     `json:"storeId"`
	Name           string     `json:"name"`
	NormalizedName string     `json:"normalizedName"`
	AisleID        *string    `json:"aisleId"`
	SectionID      *string    `json:"sectionId"`
	UsageCount     int        `json:"usageCount"`
	LastUsedAt     *time.Time `json:"lastUsedAt"`
	IsFavorite     bool       `json:"isFavorite"`
	IsHidden       bool       `json:"isHidden"`
	CreatedBy      *string    `json:"createdBy"`
	UpdatedBy      *string    `json:"updatedBy"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}
