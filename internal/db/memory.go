package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/trolley/internal/model"
	"github.com/dukerupert/trolley/internal/normalize"
)

// Memory is the in-memory backend: the full Database surface over local
// maps, for offline/demo operation and tests. Nothing survives a restart.
type Memory struct {
	bus *Bus

	mu       sync.Mutex
	stores   map[string]*model.Store
	aisles   map[string]*model.StoreAisle
	sections map[string]*model.StoreSection
	items    map[string]*model.StoreItem
	list     map[string]*model.ShoppingListItem
	units    []model.QuantityUnit
}

func NewMemory(bus *Bus) *Memory {
	if bus == nil {
		bus = NewBus()
	}
	return &Memory{
		bus:      bus,
		stores:   make(map[string]*model.Store),
		aisles:   make(map[string]*model.StoreAisle),
		sections: make(map[string]*model.StoreSection),
		items:    make(map[string]*model.StoreItem),
		list:     make(map[string]*model.ShoppingListItem),
	}
}

func (m *Memory) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.units == nil {
		m.units = seedUnits()
	}
	return nil
}

func (m *Memory) Close() error { return nil }

// Reset wipes everything except the named logical tables.
func (m *Memory) Reset(ctx context.Context, tablesToPersist []string) error {
	keep := make(map[string]bool, len(tablesToPersist))
	for _, t := range tablesToPersist {
		keep[t] = true
	}

	m.mu.Lock()
	if !keep[TableStores] {
		m.stores = make(map[string]*model.Store)
	}
	if !keep[TableAisles] {
		m.aisles = make(map[string]*model.StoreAisle)
	}
	if !keep[TableSections] {
		m.sections = make(map[string]*model.StoreSection)
	}
	if !keep[TableItems] {
		m.items = make(map[string]*model.StoreItem)
	}
	if !keep[TableShoppingList] {
		m.list = make(map[string]*model.ShoppingListItem)
	}
	if !keep[TableUnits] {
		m.units = seedUnits()
	}
	m.mu.Unlock()

	m.bus.NotifyChange()
	return nil
}

func (m *Memory) OnChange(fn func()) func() {
	return m.bus.OnChange(fn)
}

// --- Stores ---

func (m *Memory) ListStores(ctx context.Context) ([]model.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Store, 0, len(m.stores))
	for _, s := range m.stores {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) GetStore(ctx context.Context, id string) (*model.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[id]
	if !ok {
		return nil, nil
	}
	out := *s
	return &out, nil
}

func (m *Memory) CreateStore(ctx context.Context, name string) (*model.Store, error) {
	now := time.Now().UTC()
	s := &model.Store{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.stores[s.ID] = s
	out := *s
	m.mu.Unlock()

	m.bus.NotifyChange()
	return &out, nil
}

func (m *Memory) UpdateStore(ctx context.Context, id string, p StoreUpdate) (*model.Store, error) {
	m.mu.Lock()
	s, ok := m.stores[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("update store %s: %w", id, ErrNotFound)
	}
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.IsHidden != nil {
		s.IsHidden = *p.IsHidden
	}
	s.UpdatedAt = time.Now().UTC()
	out := *s
	m.mu.Unlock()

	m.bus.NotifyChange()
	return &out, nil
}

// DeleteStore removes the store and everything under it: aisles, sections,
// catalog items, and shopping list entries.
func (m *Memory) DeleteStore(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.stores[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("delete store %s: %w", id, ErrNotFound)
	}
	delete(m.stores, id)
	for k, a := range m.aisles {
		if a.StoreID == id {
			delete(m.aisles, k)
		}
	}
	for k, s := range m.sections {
		if s.StoreID == id {
			delete(m.sections, k)
		}
	}
	for k, it := range m.items {
		if it.StoreID == id {
			delete(m.items, k)
		}
	}
	for k, li := range m.list {
		if li.StoreID == id {
			delete(m.list, k)
		}
	}
	m.mu.Unlock()

	m.bus.NotifyChange()
	return nil
}

// --- Aisles ---

func (m *Memory) ListAisles(ctx context.Context, storeID string) ([]model.StoreAisle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StoreAisle
	for _, a := range m.aisles {
		if a.StoreID == storeID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *Memory) CreateAisle(ctx context.Context, storeID, name string) (*model.StoreAisle, error) {
	now := time.Now().UTC()

	m.mu.Lock()
	if _, ok := m.stores[storeID]; !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("create aisle in store %s: %w", storeID, ErrNotFound)
	}
	next := 0
	for _, a := range m.aisles {
		if a.StoreID == storeID {
			next++
		}
	}
	a := &model.StoreAisle{
		ID:        uuid.NewString(),
		StoreID:   storeID,
		Name:      name,
		SortOrder: next,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.aisles[a.ID] = a
	out := *a
	m.mu.Unlock()

	m.bus.NotifyChange()
	return &out, nil
}

func (m *Memory) RenameAisle(ctx context.Context, storeID, aisleID, name string) (*model.StoreAisle, error) {
	m.mu.Lock()
	a, ok := m.aisles[aisleID]
	if !ok || a.StoreID != storeID {
		m.mu.Unlock()
		return nil, fmt.Errorf("rename aisle %s: %w", aisleID, ErrNotFound)
	}
	a.Name = name
	a.UpdatedAt = time.Now().UTC()
	out := *a
	m.mu.Unlock()

	m.bus.NotifyChange()
	return &out, nil
}

// DeleteAisle cascades to the aisle's sections. Items located in the aisle
// or its sections fall back to no location.
func (m *Memory) DeleteAisle(ctx context.Context, storeID, aisleID string) error {
	m.mu.Lock()
	a, ok := m.aisles[aisleID]
	if !ok || a.StoreID != storeID {
		m.mu.Unlock()
		return fmt.Errorf("delete aisle %s: %w", aisleID, ErrNotFound)
	}
	delete(m.aisles, aisleID)
	removedSections := make(map[string]bool)
	for k, s := range m.sections {
		if s.AisleID == aisleID {
			removedSections[k] = true
			delete(m.sections, k)
		}
	}
	for _, it := range m.items {
		if it.AisleID != nil && *it.AisleID == aisleID {
			it.AisleID = nil
		}
		if it.SectionID != nil && removedSections[*it.SectionID] {
			it.SectionID = nil
		}
	}
	m.mu.Unlock()

	m.bus.NotifyChange()
	return nil
}

func (m *Memory) ReorderAisles(ctx context.Context, storeID string, updates []model.SortUpdate) error {
	now := time.Now().UTC()

	m.mu.Lock()
	for _, u := range updates {
		if a, ok := m.aisles[u.ID]; ok && a.StoreID == storeID {
			a.SortOrder = u.SortOrder
			a.UpdatedAt = now
		}
	}
	m.mu.Unlock()

	m.bus.NotifyChange()
	return nil
}

// --- Sections ---

func (m *Memory) ListSections(ctx context.Context, storeID string) ([]model.StoreSection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StoreSection
	for _, s := range m.sections {
		if s.StoreID == storeID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AisleID != out[j].AisleID {
			return out[i].AisleID < out[j].AisleID
		}
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *Memory) CreateSection(ctx context.Context, storeID, aisleID, name string) (*model.StoreSection, error) {
	now := time.Now().UTC()

	m.mu.Lock()
	a, ok := m.aisles[aisleID]
	if !ok || a.StoreID != storeID {
		m.mu.Unlock()
		return nil, fmt.Errorf("create section in aisle %s: %w", aisleID, ErrNotFound)
	}
	next := 0
	for _, s := range m.sections {
		if s.AisleID == aisleID {
			next++
		}
	}
	s := &model.StoreSection{
		ID:        uuid.NewString(),
		StoreID:   storeID,
		AisleID:   aisleID,
		Name:      name,
		SortOrder: next,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sections[s.ID] = s
	out := *s
	m.mu.Unlock()

	m.bus.NotifyChange()
	return &out, nil
}

func (m *Memory) RenameSection(ctx context.Context, storeID, sectionID, name string) (*model.StoreSection, error) {
	m.mu.Lock()
	s, ok := m.sections[sectionID]
	if !ok || s.StoreID != storeID {
		m.mu.Unlock()
		return nil, fmt.Errorf("rename section %s: %w", sectionID, ErrNotFound)
	}
	s.Name = name
	s.UpdatedAt = time.Now().UTC()
	out := *s
	m.mu.Unlock()

	m.bus.NotifyChange()
	return &out, nil
}

func (m *Memory) DeleteSection(ctx context.Context, storeID, sectionID string) error {
	m.mu.Lock()
	s, ok := m.sections[sectionID]
	if !ok || s.StoreID != storeID {
		m.mu.Unlock()
		return fmt.Errorf("delete section %s: %w", sectionID, ErrNotFound)
	}
	delete(m.sections, sectionID)
	for _, it := range m.items {
		if it.SectionID != nil && *it.SectionID == sectionID {
			it.SectionID = nil
		}
	}
	m.mu.Unlock()

	m.bus.NotifyChange()
	return nil
}

func (m *Memory) ReorderSections(ctx context.Context, storeID string, updates []model.SortUpdate) error {
	now := time.Now().UTC()

	m.mu.Lock()
	for _, u := range updates {
		if s, ok := m.sections[u.ID]; ok && s.StoreID == storeID {
			s.SortOrder = u.SortOrder
			s.UpdatedAt = now
		}
	}
	m.mu.Unlock()

	m.bus.NotifyChange()
	return nil
}

// --- Catalog items ---

func (m *Memory) ListItems(ctx context.Context, storeID string) ([]model.StoreItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StoreItem
	for _, it := range m.items {
		if it.StoreID == storeID {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) InsertItem(ctx context.Context, storeID, name string, aisleID, sectionID *string) (*model.StoreItem, error) {
	now := time.Now().UTC()
	aisleID, sectionID = normalizeLocation(aisleID, sectionID)

	m.mu.Lock()
	if _, ok := m.stores[storeID]; !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("insert item in store %s: %w", storeID, ErrNotFound)
	}
	it := &model.StoreItem{
		ID:             uuid.NewString(),
		StoreID:        storeID,
		Name:           name,
		NormalizedName: normalize.Name(name),
		AisleID:        aisleID,
		SectionID:      sectionID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.items[it.ID] = it
	out := *it
	m.mu.Unlock()

	m.bus.NotifyChange()
	return &out, nil
}

func (m *Memory) UpdateItem(ctx context.Context, storeID, itemID string, p ItemUpdate) (*model.StoreItem, error) {
	m.mu.Lock()
	it, ok := m.items[itemID]
	if !ok || it.StoreID != storeID {
		m.mu.Unlock()
		return nil, fmt.Errorf("update item %s: %w", itemID, ErrNotFound)
	}
	if p.Name != nil {
		it.Name = *p.Name
		it.NormalizedName = normalize.Name(*p.Name)
	}
	if p.SetLocation {
		it.AisleID, it.SectionID = normalizeLocation(p.AisleID, p.SectionID)
	}
	if p.IsFavorite != nil {
		it.IsFavorite = *p.IsFavorite
	}
	if p.IsHidden != nil {
		it.IsHidden = *p.IsHidden
	}
	it.UpdatedAt = time.Now().UTC()
	out := *it
	m.mu.Unlock()

	m.bus.NotifyChange()
	return &out, nil
}

func (m *Memory) DeleteItem(ctx context.Context, storeID, itemID string) error {
	m.mu.Lock()
	it, ok := m.items[itemID]
	if !ok || it.StoreID != storeID {
		m.mu.Unlock()
		return fmt.Errorf("delete item %s: %w", itemID, ErrNotFound)
	}
	delete(m.items, itemID)
	m.mu.Unlock()

	m.bus.NotifyChange()
	return nil
}

// GetOrCreateStoreItemByName matches case- and plural-insensitively against
// the store's catalog. A hit bumps usage metadata and optionally relocates
// the item; a miss creates it.
func (m *Memory) GetOrCreateStoreItemByName(ctx context.Context, storeID, name string, aisleID, sectionID *string) (*model.StoreItem, error) {
	now := time.Now().UTC()
	normalized := normalize.Name(name)
	aisleID, sectionID = normalizeLocation(aisleID, sectionID)

	m.mu.Lock()
	if _, ok := m.stores[storeID]; !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("get or create item in store %s: %w", storeID, ErrNotFound)
	}
	for _, it := range m.items {
		if it.StoreID != storeID || it.NormalizedName != normalized {
			continue
		}
		if aisleID != nil || sectionID != nil {
			it.AisleID, it.SectionID = aisleID, sectionID
		}
		it.UsageCount++
		last := now
		it.LastUsedAt = &last
		it.UpdatedAt = now
		out := *it
		m.mu.Unlock()

		m.bus.NotifyChange()
		return &out, nil
	}

	last := now
	it := &model.StoreItem{
		ID:             uuid.NewString(),
		StoreID:        storeID,
		Name:           name,
		NormalizedName: normalized,
		AisleID:        aisleID,
		SectionID:      sectionID,
		UsageCount:     1,
		LastUsedAt:     &last,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.items[it.ID] = it
	out := *it
	m.mu.Unlock()

	m.bus.NotifyChange()
	return &out, nil
}

func (m *Memory) SearchStoreItems(ctx context.Context, storeID, term string, limit int) ([]model.StoreItem, error) {
	normalized := normalize.Name(term)
	if normalized == "" {
		return nil, nil
	}

	m.mu.Lock()
	var matches []model.StoreItem
	for _, it := range m.items {
		if it.StoreID == storeID && !it.IsHidden && strings.Contains(it.NormalizedName, normalized) {
			matches = append(matches, *it)
		}
	}
	m.mu.Unlock()

	rankItems(matches, normalized)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// rankItems orders search matches: prefix matches first, then by usage
// count, then most recently used, then alphabetically.
func rankItems(items []model.StoreItem, normalizedTerm string) {
	sort.SliceStable(items, func(i, j int) bool {
		pi := strings.HasPrefix(items[i].NormalizedName, normalizedTerm)
		pj := strings.HasPrefix(items[j].NormalizedName, normalizedTerm)
		if pi != pj {
			return pi
		}
		if items[i].UsageCount != items[j].UsageCount {
			return items[i].UsageCount > items[j].UsageCount
		}
		li, lj := items[i].LastUsedAt, items[j].LastUsedAt
		switch {
		case li != nil && lj != nil && !li.Equal(*lj):
			return li.After(*lj)
		case li != nil && lj == nil:
			return true
		case li == nil && lj != nil:
			return false
		}
		return items[i].Name < items[j].Name
	})
}

// --- Shopping list ---

func (m *Memory) ListShoppingListItems(ctx context.Context, storeID string, includeSnoozed bool) ([]model.ShoppingListItem, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ShoppingListItem
	for _, li := range m.list {
		if li.StoreID != storeID {
			continue
		}
		if !includeSnoozed && li.IsSnoozed(now) {
			continue
		}
		out = append(out, *li)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) UpsertShoppingListItem(ctx context.Context, storeID string, p ShoppingListItemParams) (*model.ShoppingListItem, error) {
	now := time.Now().UTC()

	m.mu.Lock()
	if p.ID != "" {
		li, ok := m.list[p.ID]
		if !ok || li.StoreID != storeID {
			m.mu.Unlock()
			return nil, fmt.Errorf("update list item %s: %w", p.ID, ErrNotFound)
		}
		applyListParams(li, p, now)
		out := *li
		m.mu.Unlock()

		m.bus.NotifyChange()
		return &out, nil
	}

	if _, ok := m.stores[storeID]; !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("create list item in store %s: %w", storeID, ErrNotFound)
	}
	li := &model.ShoppingListItem{
		ID:        uuid.NewString(),
		StoreID:   storeID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyListParams(li, p, now)
	m.list[li.ID] = li
	out := *li
	m.mu.Unlock()

	m.bus.NotifyChange()
	return &out, nil
}

// applyListParams applies a partial update. CheckedAt moves in lockstep
// with an explicit IsChecked transition.
func applyListParams(li *model.ShoppingListItem, p ShoppingListItemParams, now time.Time) {
	if p.StoreItemID != nil {
		li.StoreItemID = p.StoreItemID
	}
	if p.ClearQty {
		li.Qty = nil
	} else if p.Qty != nil {
		li.Qty = p.Qty
	}
	if p.ClearUnit {
		li.UnitID = nil
	} else if p.UnitID != nil {
		li.UnitID = p.UnitID
	}
	if p.Notes != nil {
		li.Notes = *p.Notes
	}
	if p.IsChecked != nil {
		li.IsChecked = *p.IsChecked
		if *p.IsChecked {
			at := now
			li.CheckedAt = &at
		} else {
			li.CheckedAt = nil
		}
	}
	if p.IsIdea != nil {
		li.IsIdea = *p.IsIdea
	}
	if p.IsUnsure != nil {
		li.IsUnsure = *p.IsUnsure
	}
	if p.IsSample != nil {
		li.IsSample = *p.IsSample
	}
	if p.ClearSnooze {
		li.SnoozedUntil = nil
	} else if p.SnoozedUntil != nil {
		li.SnoozedUntil = p.SnoozedUntil
	}
	li.UpdatedAt = now
}

// ToggleShoppingListItemChecked never reports a conflict in memory: there
// are no other collaborators to race against.
func (m *Memory) ToggleShoppingListItemChecked(ctx context.Context, storeID, itemID string, checked bool) (*model.CheckConflict, error) {
	now := time.Now().UTC()

	m.mu.Lock()
	li, ok := m.list[itemID]
	if !ok || li.StoreID != storeID {
		m.mu.Unlock()
		return nil, fmt.Errorf("toggle list item %s: %w", itemID, ErrNotFound)
	}
	li.IsChecked = checked
	if checked {
		at := now
		li.CheckedAt = &at
	} else {
		li.CheckedAt = nil
	}
	li.UpdatedAt = now
	m.mu.Unlock()

	m.bus.NotifyChange()
	return nil, nil
}

func (m *Memory) ClearCheckedShoppingListItems(ctx context.Context, storeID string) (int, error) {
	m.mu.Lock()
	count := 0
	for k, li := range m.list {
		if li.StoreID == storeID && li.IsChecked {
			delete(m.list, k)
			count++
		}
	}
	m.mu.Unlock()

	if count > 0 {
		m.bus.NotifyChange()
	}
	return count, nil
}

// DeleteShoppingListItem removes the entry and its underlying catalog item.
func (m *Memory) DeleteShoppingListItem(ctx context.Context, storeID, itemID string) error {
	m.mu.Lock()
	li, ok := m.list[itemID]
	if !ok || li.StoreID != storeID {
		m.mu.Unlock()
		return fmt.Errorf("delete list item %s: %w", itemID, ErrNotFound)
	}
	delete(m.list, itemID)
	if li.StoreItemID != nil {
		delete(m.items, *li.StoreItemID)
	}
	m.mu.Unlock()

	m.bus.NotifyChange()
	return nil
}

// RemoveShoppingListItem removes only the entry; the catalog item survives.
func (m *Memory) RemoveShoppingListItem(ctx context.Context, storeID, itemID string) error {
	m.mu.Lock()
	li, ok := m.list[itemID]
	if !ok || li.StoreID != storeID {
		m.mu.Unlock()
		return fmt.Errorf("remove list item %s: %w", itemID, ErrNotFound)
	}
	delete(m.list, itemID)
	m.mu.Unlock()

	m.bus.NotifyChange()
	return nil
}

// --- Reference data ---

func (m *Memory) ListUnits(ctx context.Context) ([]model.QuantityUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.QuantityUnit, len(m.units))
	copy(out, m.units)
	return out, nil
}

// normalizeLocation enforces aisle/section mutual exclusivity: when a
// section is given, the aisle is stored nil and derived via the section.
func normalizeLocation(aisleID, sectionID *string) (*string, *string) {
	if sectionID != nil && *sectionID != "" {
		return nil, sectionID
	}
	if aisleID != nil && *aisleID == "" {
		aisleID = nil
	}
	return aisleID, sectionID
}

func seedUnits() []model.QuantityUnit {
	return []model.QuantityUnit{
		{ID: "unit-each", Name: "each", Plural: "each", SortOrder: 0},
		{ID: "unit-bunch", Name: "bunch", Plural: "bunches", SortOrder: 1},
		{ID: "unit-lb", Name: "lb", Plural: "lbs", SortOrder: 2},
		{ID: "unit-oz", Name: "oz", Plural: "oz", SortOrder: 3},
		{ID: "unit-gallon", Name: "gallon", Plural: "gallons", SortOrder: 4},
		{ID: "unit-liter", Name: "liter", Plural: "liters", SortOrder: 5},
		{ID: "unit-dozen", Name: "dozen", Plural: "dozen", SortOrder: 6},
	}
}
