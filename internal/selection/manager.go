// Package selection tracks which vendor groups the user has ticked for
// checkout. Selection is UI state layered over the cart; it never mutates
// cart contents and silently sheds vendors whose groups disappear.
package selection

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nashtto/cart-engine/internal/cart"
	pkgerrors "github.com/nashtto/cart-engine/pkg/errors"
)

// Manager owns the selected-vendor set.
type Manager struct {
	mu       sync.Mutex
	selected map[string]bool
	store    *cart.Store
}

// NewManager builds the manager and subscribes it to the cart store so
// selections cannot outlive their vendor groups.
func NewManager(store *cart.Store) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("cart store required")
	}
	m := &Manager{
		selected: make(map[string]bool),
		store:    store,
	}
	store.Subscribe(m.onCartEvent)
	return m, nil
}

// Toggle flips the vendor's selection. Selecting a vendor with no cart
// group is rejected; deselecting is always allowed.
//
// The cart snapshot is taken before m.mu so the lock order against the
// store is one-directional; onCartEvent runs under the store lock and
// never calls back into the store.
func (m *Manager) Toggle(vendorID string) error {
	_, exists := m.store.Snapshot().Group(vendorID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.selected[vendorID] {
		delete(m.selected, vendorID)
		return nil
	}
	if !exists {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("vendor %s not in cart", vendorID))
	}
	m.selected[vendorID] = true
	return nil
}

// SelectAll selects every vendor currently in the cart, replacing the
// previous selection.
func (m *Manager) SelectAll() {
	snapshot := m.store.Snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = make(map[string]bool, len(snapshot.Groups))
	for _, group := range snapshot.Groups {
		m.selected[group.VendorID] = true
	}
}

// Clear empties the selection.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = make(map[string]bool)
}

// IsSelected reports whether the vendor is ticked.
func (m *Manager) IsSelected(vendorID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected[vendorID]
}

// Selected returns the selected vendor ids in stable order.
func (m *Manager) Selected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.selected))
	for id := range m.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResolveForCheckout returns the single selected vendor group. Checkout
// serves one restaurant at a time; zero selections is a validation error
// and more than one is rejected outright.
func (m *Manager) ResolveForCheckout() (cart.VendorGroup, error) {
	snapshot := m.store.Snapshot()

	m.mu.Lock()
	ids := make([]string, 0, len(m.selected))
	for id := range m.selected {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	switch len(ids) {
	case 0:
		return cart.VendorGroup{}, pkgerrors.New(pkgerrors.CodeValidation, "select a restaurant to check out")
	case 1:
	default:
		return cart.VendorGroup{}, pkgerrors.New(pkgerrors.CodeMultiVendor, "checkout supports one restaurant per order")
	}

	group, ok := snapshot.Group(ids[0])
	if !ok {
		return cart.VendorGroup{}, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("vendor %s not in cart", ids[0]))
	}
	return group, nil
}

func (m *Manager) onCartEvent(event cart.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case event.Op == cart.OpClearAll:
		m.selected = make(map[string]bool)
	case event.GroupRemoved:
		delete(m.selected, event.VendorID)
	case event.Op == cart.OpRefresh:
		// A canonical re-fetch may have dropped groups server-side.
		live := make(map[string]bool, len(event.Cart.Groups))
		for _, group := range event.Cart.Groups {
			live[group.VendorID] = true
		}
		for id := range m.selected {
			if !live[id] {
				delete(m.selected, id)
			}
		}
	}
}
