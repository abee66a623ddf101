// Package store defines the typed repository over the kiosk's persistent
// entities. Two implementations exist: the Postgres-backed one in
// store/postgres and the in-memory one in memory.go used by tests and
// single-box deployments.
package store

import (
	"context"

	"github.com/vendkit/kioskd/pkg/models"
)

// Store is the repository contract. All methods are safe for concurrent use.
type Store interface {
	// Products
	AddProduct(ctx context.Context, p *models.Product) error
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	UpdateProduct(ctx context.Context, p *models.Product) error
	RemoveProduct(ctx context.Context, id int64) error

	// Variants
	AddVariant(ctx context.Context, v *models.Variant) error
	GetVariant(ctx context.Context, id int64) (*models.Variant, error)
	GetVariantsByProduct(ctx context.Context, productID int64) ([]models.Variant, error)
	ListVariants(ctx context.Context) ([]models.Variant, error)
	UpdateVariant(ctx context.Context, v *models.Variant) error
	RemoveVariant(ctx context.Context, id int64) error
	// MarkVariantsDeleted flags every variant of a product as deleted.
	MarkVariantsDeleted(ctx context.Context, productID int64) error

	// Collections
	AddCollection(ctx context.Context, c *models.Collection) error
	GetCollection(ctx context.Context, id int64) (*models.Collection, error)
	ListCollections(ctx context.Context) ([]models.Collection, error)
	UpdateCollection(ctx context.Context, c *models.Collection) error
	RemoveCollection(ctx context.Context, id int64) error

	// Media
	AddMedia(ctx context.Context, m *models.Media) (int64, error)
	GetMedia(ctx context.Context, id int64) (*models.Media, error)
	UpdateMedia(ctx context.Context, m *models.Media) error
	RemoveMedia(ctx context.Context, id int64) error

	// Inventory. Slots are returned in storage order: unit, tray, location.
	GetInventory(ctx context.Context) ([]models.InventorySlot, error)
	GetInventoryByVariant(ctx context.Context, variantID int64) ([]models.InventorySlot, error)
	GetInventoryByUnit(ctx context.Context, unitID int) ([]models.InventorySlot, error)
	AddInventorySlot(ctx context.Context, s *models.InventorySlot) error
	UpdateInventorySlot(ctx context.Context, s *models.InventorySlot) error
	UpdateSlotQuantity(ctx context.Context, unitID, tray, location, quantity int) error
	RemoveInventorySlot(ctx context.Context, unitID, tray, location int) error

	// Carts. RemoveCart also removes the cart's items and reservations.
	AddCart(ctx context.Context, c *models.Cart) (int64, error)
	GetCart(ctx context.Context, id int64) (*models.Cart, error)
	GetCartByTransaction(ctx context.Context, transactionID string) (*models.Cart, error)
	ListCarts(ctx context.Context) ([]models.Cart, error)
	UpdateCart(ctx context.Context, c *models.Cart) error
	RemoveCart(ctx context.Context, id int64) error

	// Cart items
	AddCartItem(ctx context.Context, it *models.CartItem) error
	GetCartItem(ctx context.Context, cartID, variantID int64) (*models.CartItem, error)
	GetCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error)
	UpdateCartItem(ctx context.Context, it *models.CartItem) error
	RemoveCartItem(ctx context.Context, cartID, variantID int64) error

	// Reservations. GetReservations filters by variant and, when cartID is
	// non-zero, by cart; results are in storage order.
	AddReservation(ctx context.Context, r *models.Reservation) (int64, error)
	UpdateReservation(ctx context.Context, r *models.Reservation) error
	// AddOrUpdateReservation merges quantity into an existing reservation for
	// the same (cart, unit, location, variant), or inserts a new one.
	AddOrUpdateReservation(ctx context.Context, r *models.Reservation) error
	RemoveReservation(ctx context.Context, id int64) error
	GetReservations(ctx context.Context, variantID, cartID int64) ([]models.Reservation, error)
	GetReservationsByCart(ctx context.Context, cartID int64) ([]models.Reservation, error)

	// Order history
	AddOrderHistory(ctx context.Context, rec *models.OrderHistoryRecord) (int64, error)
	RemoveOrderHistory(ctx context.Context, id int64) error
	ListOrderHistory(ctx context.Context) ([]models.OrderHistoryRecord, error)

	// Users
	AddUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, name string) (*models.User, error)
}
