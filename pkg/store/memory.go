package store

import (
	"context"
	"sort"
	"sync"

	"github.com/vendkit/kioskd/pkg/models"
)

// slotKey addresses an inventory slot.
type slotKey struct {
	unit, tray, location int
}

// itemKey addresses a cart item.
type itemKey struct {
	cartID, variantID int64
}

// Memory is an in-memory Store. A single mutex serializes all access, the
// same discipline the SQL implementation gets from its connection pool.
type Memory struct {
	mu sync.Mutex

	products     map[int64]models.Product
	variants     map[int64]models.Variant
	collections  map[int64]models.Collection
	media        map[int64]models.Media
	inventory    map[slotKey]models.InventorySlot
	carts        map[int64]models.Cart
	cartItems    map[itemKey]models.CartItem
	reservations map[int64]models.Reservation
	orderHistory map[int64]models.OrderHistoryRecord
	users        map[string]models.User

	nextCartID        int64
	nextReservationID int64
	nextOrderID       int64
	nextMediaID       int64
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		products:     make(map[int64]models.Product),
		variants:     make(map[int64]models.Variant),
		collections:  make(map[int64]models.Collection),
		media:        make(map[int64]models.Media),
		inventory:    make(map[slotKey]models.InventorySlot),
		carts:        make(map[int64]models.Cart),
		cartItems:    make(map[itemKey]models.CartItem),
		reservations: make(map[int64]models.Reservation),
		orderHistory: make(map[int64]models.OrderHistoryRecord),
		users:        make(map[string]models.User),
	}
}

// Products

func (m *Memory) AddProduct(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[p.ID]; ok {
		return ErrAlreadyExists
	}
	m.products[p.ID] = *p
	return nil
}

func (m *Memory) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) ListProducts(_ context.Context) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateProduct(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[p.ID]; !ok {
		return ErrNotFound
	}
	m.products[p.ID] = *p
	return nil
}

func (m *Memory) RemoveProduct(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return ErrNotFound
	}
	delete(m.products, id)
	return nil
}

// Variants

func (m *Memory) AddVariant(_ context.Context, v *models.Variant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.variants[v.ID]; ok {
		return ErrAlreadyExists
	}
	m.variants[v.ID] = *v
	return nil
}

func (m *Memory) GetVariant(_ context.Context, id int64) (*models.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.variants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

func (m *Memory) GetVariantsByProduct(_ context.Context, productID int64) ([]models.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Variant
	for _, v := range m.variants {
		if v.ProductID == productID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListVariants(_ context.Context) ([]models.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Variant, 0, len(m.variants))
	for _, v := range m.variants {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateVariant(_ context.Context, v *models.Variant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.variants[v.ID]; !ok {
		return ErrNotFound
	}
	m.variants[v.ID] = *v
	return nil
}

func (m *Memory) RemoveVariant(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.variants[id]; !ok {
		return ErrNotFound
	}
	delete(m.variants, id)
	return nil
}

func (m *Memory) MarkVariantsDeleted(_ context.Context, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, v := range m.variants {
		if v.ProductID == productID {
			v.Deleted = true
			m.variants[id] = v
		}
	}
	return nil
}

// Collections

func (m *Memory) AddCollection(_ context.Context, c *models.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[c.ID]; ok {
		return ErrAlreadyExists
	}
	m.collections[c.ID] = *c
	return nil
}

func (m *Memory) GetCollection(_ context.Context, id int64) (*models.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *Memory) ListCollections(_ context.Context) ([]models.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Collection, 0, len(m.collections))
	for _, c := range m.collections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateCollection(_ context.Context, c *models.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[c.ID]; !ok {
		return ErrNotFound
	}
	m.collections[c.ID] = *c
	return nil
}

func (m *Memory) RemoveCollection(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[id]; !ok {
		return ErrNotFound
	}
	delete(m.collections, id)
	return nil
}

// Media

func (m *Memory) AddMedia(_ context.Context, md *models.Media) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if md.ID == 0 {
		m.nextMediaID++
		md.ID = m.nextMediaID
	}
	m.media[md.ID] = *md
	return md.ID, nil
}

func (m *Memory) GetMedia(_ context.Context, id int64) (*models.Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.media[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &md, nil
}

func (m *Memory) UpdateMedia(_ context.Context, md *models.Media) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.media[md.ID]; !ok {
		return ErrNotFound
	}
	m.media[md.ID] = *md
	return nil
}

func (m *Memory) RemoveMedia(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.media[id]; !ok {
		return ErrNotFound
	}
	delete(m.media, id)
	return nil
}

// Inventory

func sortSlots(slots []models.InventorySlot) {
	sort.Slice(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		if a.UnitID != b.UnitID {
			return a.UnitID < b.UnitID
		}
		if a.TrayNumber != b.TrayNumber {
			return a.TrayNumber < b.TrayNumber
		}
		return a.Location < b.Location
	})
}

func (m *Memory) GetInventory(_ context.Context) ([]models.InventorySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.InventorySlot, 0, len(m.inventory))
	for _, s := range m.inventory {
		out = append(out, s)
	}
	sortSlots(out)
	return out, nil
}

func (m *Memory) GetInventoryByVariant(_ context.Context, variantID int64) ([]models.InventorySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.InventorySlot
	for _, s := range m.inventory {
		if s.VariantID == variantID {
			out = append(out, s)
		}
	}
	sortSlots(out)
	return out, nil
}

func (m *Memory) GetInventoryByUnit(_ context.Context, unitID int) ([]models.InventorySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.InventorySlot
	for _, s := range m.inventory {
		if s.UnitID == unitID {
			out = append(out, s)
		}
	}
	sortSlots(out)
	return out, nil
}

func (m *Memory) AddInventorySlot(_ context.Context, s *models.InventorySlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := slotKey{s.UnitID, s.TrayNumber, s.Location}
	if _, ok := m.inventory[k]; ok {
		return ErrAlreadyExists
	}
	m.inventory[k] = *s
	return nil
}

func (m *Memory) UpdateInventorySlot(_ context.Context, s *models.InventorySlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := slotKey{s.UnitID, s.TrayNumber, s.Location}
	if _, ok := m.inventory[k]; !ok {
		return ErrNotFound
	}
	m.inventory[k] = *s
	return nil
}

func (m *Memory) UpdateSlotQuantity(_ context.Context, unitID, tray, location, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := slotKey{unitID, tray, location}
	s, ok := m.inventory[k]
	if !ok {
		return ErrNotFound
	}
	s.Quantity = quantity
	m.inventory[k] = s
	return nil
}

func (m *Memory) RemoveInventorySlot(_ context.Context, unitID, tray, location int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := slotKey{unitID, tray, location}
	if _, ok := m.inventory[k]; !ok {
		return ErrNotFound
	}
	delete(m.inventory, k)
	return nil
}

// Carts

func (m *Memory) AddCart(_ context.Context, c *models.Cart) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCartID++
	c.ID = m.nextCartID
	m.carts[c.ID] = *c
	return c.ID, nil
}

func (m *Memory) GetCart(_ context.Context, id int64) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *Memory) GetCartByTransaction(_ context.Context, transactionID string) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.carts {
		if c.TransactionID == transactionID {
			c := c
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListCarts(_ context.Context) ([]models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Cart, 0, len(m.carts))
	for _, c := range m.carts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateCart(_ context.Context, c *models.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.carts[c.ID]; !ok {
		return ErrNotFound
	}
	m.carts[c.ID] = *c
	return nil
}

func (m *Memory) RemoveCart(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.carts[id]; !ok {
		return ErrNotFound
	}
	delete(m.carts, id)
	for k := range m.cartItems {
		if k.cartID == id {
			delete(m.cartItems, k)
		}
	}
	for rid, r := range m.reservations {
		if r.CartID == id {
			delete(m.reservations, rid)
		}
	}
	return nil
}

// Cart items

func (m *Memory) AddCartItem(_ context.Context, it *models.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := itemKey{it.CartID, it.VariantID}
	if _, ok := m.cartItems[k]; ok {
		return ErrAlreadyExists
	}
	m.cartItems[k] = *it
	return nil
}

func (m *Memory) GetCartItem(_ context.Context, cartID, variantID int64) (*models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.cartItems[itemKey{cartID, variantID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &it, nil
}

func (m *Memory) GetCartItems(_ context.Context, cartID int64) ([]models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CartItem
	for _, it := range m.cartItems {
		if it.CartID == cartID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out, nil
}

func (m *Memory) UpdateCartItem(_ context.Context, it *models.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := itemKey{it.CartID, it.VariantID}
	if _, ok := m.cartItems[k]; !ok {
		return ErrNotFound
	}
	m.cartItems[k] = *it
	return nil
}

func (m *Memory) RemoveCartItem(_ context.Context, cartID, variantID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := itemKey{cartID, variantID}
	if _, ok := m.cartItems[k]; !ok {
		return ErrNotFound
	}
	delete(m.cartItems, k)
	return nil
}

// Reservations

func sortReservations(rs []models.Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.UnitID != b.UnitID {
			return a.UnitID < b.UnitID
		}
		if a.Location != b.Location {
			return a.Location < b.Location
		}
		return a.ID < b.ID
	})
}

func (m *Memory) AddReservation(_ context.Context, r *models.Reservation) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextReservationID++
	r.ID = m.nextReservationID
	m.reservations[r.ID] = *r
	return r.ID, nil
}

func (m *Memory) UpdateReservation(_ context.Context, r *models.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reservations[r.ID]; !ok {
		return ErrNotFound
	}
	m.reservations[r.ID] = *r
	return nil
}

func (m *Memory) AddOrUpdateReservation(_ context.Context, r *models.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ex := range m.reservations {
		if ex.CartID == r.CartID && ex.UnitID == r.UnitID &&
			ex.Location == r.Location && ex.VariantID == r.VariantID {
			ex.Quantity += r.Quantity
			m.reservations[id] = ex
			r.ID = id
			r.Quantity = ex.Quantity
			return nil
		}
	}
	m.nextReservationID++
	r.ID = m.nextReservationID
	m.reservations[r.ID] = *r
	return nil
}

func (m *Memory) RemoveReservation(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reservations[id]; !ok {
		return ErrNotFound
	}
	delete(m.reservations, id)
	return nil
}

func (m *Memory) GetReservations(_ context.Context, variantID, cartID int64) ([]models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Reservation
	for _, r := range m.reservations {
		if r.VariantID != variantID {
			continue
		}
		if cartID != 0 && r.CartID != cartID {
			continue
		}
		out = append(out, r)
	}
	sortReservations(out)
	return out, nil
}

func (m *Memory) GetReservationsByCart(_ context.Context, cartID int64) ([]models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Reservation
	for _, r := range m.reservations {
		if r.CartID == cartID {
			out = append(out, r)
		}
	}
	sortReservations(out)
	return out, nil
}

// Order history

func (m *Memory) AddOrderHistory(_ context.Context, rec *models.OrderHistoryRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextOrderID++
	rec.ID = m.nextOrderID
	m.orderHistory[rec.ID] = *rec
	return rec.ID, nil
}

func (m *Memory) RemoveOrderHistory(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orderHistory[id]; !ok {
		return ErrNotFound
	}
	delete(m.orderHistory, id)
	return nil
}

func (m *Memory) ListOrderHistory(_ context.Context) ([]models.OrderHistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.OrderHistoryRecord, 0, len(m.orderHistory))
	for _, rec := range m.orderHistory {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Users

func (m *Memory) AddUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Name]; ok {
		return ErrAlreadyExists
	}
	m.users[u.Name] = *u
	return nil
}

func (m *Memory) GetUser(_ context.Context, name string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}
