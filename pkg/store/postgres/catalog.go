package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/vendkit/kioskd/pkg/models"
)

// Products

const productColumns = "id, last_update, type, tags, name, description, properties, variant_ids"

func scanProduct(row interface{ Scan(...any) error }) (*models.Product, error) {
	var p models.Product
	var tags, name, desc, props, variantIDs []byte
	if err := row.Scan(&p.ID, &p.LastUpdate, &p.Type, &tags, &name, &desc, &props, &variantIDs); err != nil {
		return nil, err
	}
	if err := fromJSON(tags, &p.Tags); err != nil {
		return nil, err
	}
	if err := fromJSON(name, &p.Name); err != nil {
		return nil, err
	}
	if err := fromJSON(desc, &p.Description); err != nil {
		return nil, err
	}
	if err := fromJSON(props, &p.Properties); err != nil {
		return nil, err
	}
	if err := fromJSON(variantIDs, &p.VariantIDs); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) AddProduct(ctx context.Context, p *models.Product) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, last_update, type, tags, name, description, properties, variant_ids)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.LastUpdate, p.Type, mustJSON(p.Tags), mustJSON(p.Name),
		mustJSON(p.Description), mustJSON(p.Properties), mustJSON(p.VariantIDs))
	return dbErr("add product", err)
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if err != nil {
		return nil, dbErr("get product", err)
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, dbErr("list products", err)
	}
	defer rows.Close()

	var out []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, dbErr("list products", err)
		}
		out = append(out, *p)
	}
	return out, dbErr("list products", rows.Err())
}

func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET last_update = $2, type = $3, tags = $4, name = $5,
		 description = $6, properties = $7, variant_ids = $8 WHERE id = $1`,
		p.ID, p.LastUpdate, p.Type, mustJSON(p.Tags), mustJSON(p.Name),
		mustJSON(p.Description), mustJSON(p.Properties), mustJSON(p.VariantIDs))
	return affectedOrNotFound("update product", res, err)
}

func (s *Store) RemoveProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	return affectedOrNotFound("remove product", res, err)
}

// Variants

const variantColumns = "id, product_id, price, compare_price, price_formatted, " +
	"compare_price_formatted, deleted, media_id, name, properties, options"

func scanVariant(row interface{ Scan(...any) error }) (*models.Variant, error) {
	var v models.Variant
	var name, props, options []byte
	if err := row.Scan(&v.ID, &v.ProductID, &v.Price, &v.ComparePrice,
		&v.PriceFormatted, &v.ComparePriceFormatted, &v.Deleted, &v.MediaID,
		&name, &props, &options); err != nil {
		return nil, err
	}
	if err := fromJSON(name, &v.Name); err != nil {
		return nil, err
	}
	if err := fromJSON(props, &v.Properties); err != nil {
		return nil, err
	}
	if err := fromJSON(options, &v.Options); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) AddVariant(ctx context.Context, v *models.Variant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO variants (id, product_id, price, compare_price, price_formatted,
		 compare_price_formatted, deleted, media_id, name, properties, options)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		v.ID, v.ProductID, v.Price, v.ComparePrice, v.PriceFormatted,
		v.ComparePriceFormatted, v.Deleted, v.MediaID,
		mustJSON(v.Name), mustJSON(v.Properties), mustJSON(v.Options))
	return dbErr("add variant", err)
}

func (s *Store) GetVariant(ctx context.Context, id int64) (*models.Variant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+variantColumns+` FROM variants WHERE id = $1`, id)
	v, err := scanVariant(row)
	if err != nil {
		return nil, dbErr("get variant", err)
	}
	return v, nil
}

func (s *Store) queryVariants(ctx context.Context, op, query string, args ...any) ([]models.Variant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(op, err)
	}
	defer rows.Close()

	var out []models.Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, dbErr(op, err)
		}
		out = append(out, *v)
	}
	return out, dbErr(op, rows.Err())
}

func (s *Store) GetVariantsByProduct(ctx context.Context, productID int64) ([]models.Variant, error) {
	return s.queryVariants(ctx, "get variants by product",
		`SELECT `+variantColumns+` FROM variants WHERE product_id = $1 ORDER BY id`, productID)
}

func (s *Store) ListVariants(ctx context.Context) ([]models.Variant, error) {
	return s.queryVariants(ctx, "list variants",
		`SELECT `+variantColumns+` FROM variants ORDER BY id`)
}

func (s *Store) UpdateVariant(ctx context.Context, v *models.Variant) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE variants SET product_id = $2, price = $3, compare_price = $4,
		 price_formatted = $5, compare_price_formatted = $6, deleted = $7,
		 media_id = $8, name = $9, properties = $10, options = $11 WHERE id = $1`,
		v.ID, v.ProductID, v.Price, v.ComparePrice, v.PriceFormatted,
		v.ComparePriceFormatted, v.Deleted, v.MediaID,
		mustJSON(v.Name), mustJSON(v.Properties), mustJSON(v.Options))
	return affectedOrNotFound("update variant", res, err)
}

func (s *Store) RemoveVariant(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM variants WHERE id = $1`, id)
	return affectedOrNotFound("remove variant", res, err)
}

func (s *Store) MarkVariantsDeleted(ctx context.Context, productID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE variants SET deleted = TRUE WHERE product_id = $1`, productID)
	return dbErr("mark variants deleted", err)
}

// Collections

const collectionColumns = "id, last_update, media_id, name, description, product_ids"

func scanCollection(row interface{ Scan(...any) error }) (*models.Collection, error) {
	var c models.Collection
	var name, desc, productIDs []byte
	if err := row.Scan(&c.ID, &c.LastUpdate, &c.MediaID, &name, &desc, &productIDs); err != nil {
		return nil, err
	}
	if err := fromJSON(name, &c.Name); err != nil {
		return nil, err
	}
	if err := fromJSON(desc, &c.Description); err != nil {
		return nil, err
	}
	if err := fromJSON(productIDs, &c.ProductIDs); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) AddCollection(ctx context.Context, c *models.Collection) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (id, last_update, media_id, name, description, product_ids)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.LastUpdate, c.MediaID, mustJSON(c.Name), mustJSON(c.Description), mustJSON(c.ProductIDs))
	return dbErr("add collection", err)
}

func (s *Store) GetCollection(ctx context.Context, id int64) (*models.Collection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE id = $1`, id)
	c, err := scanCollection(row)
	if err != nil {
		return nil, dbErr("get collection", err)
	}
	return c, nil
}

func (s *Store) ListCollections(ctx context.Context) ([]models.Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+collectionColumns+` FROM collections ORDER BY id`)
	if err != nil {
		return nil, dbErr("list collections", err)
	}
	defer rows.Close()

	var out []models.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, dbErr("list collections", err)
		}
		out = append(out, *c)
	}
	return out, dbErr("list collections", rows.Err())
}

func (s *Store) UpdateCollection(ctx context.Context, c *models.Collection) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE collections SET last_update = $2, media_id = $3, name = $4,
		 description = $5, product_ids = $6 WHERE id = $1`,
		c.ID, c.LastUpdate, c.MediaID, mustJSON(c.Name), mustJSON(c.Description), mustJSON(c.ProductIDs))
	return affectedOrNotFound("update collection", res, err)
}

func (s *Store) RemoveCollection(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE id = $1`, id)
	return affectedOrNotFound("remove collection", res, err)
}

// Media

func (s *Store) AddMedia(ctx context.Context, m *models.Media) (int64, error) {
	if m.ID != 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO media (id, filename, last_update) VALUES ($1, $2, $3)`,
			m.ID, m.Filename, m.LastUpdate)
		return m.ID, dbErr("add media", err)
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO media (filename, last_update) VALUES ($1, $2) RETURNING id`,
		m.Filename, m.LastUpdate).Scan(&m.ID)
	return m.ID, dbErr("add media", err)
}

func (s *Store) GetMedia(ctx context.Context, id int64) (*models.Media, error) {
	var m models.Media
	err := s.db.QueryRowContext(ctx,
		`SELECT id, filename, last_update FROM media WHERE id = $1`, id).
		Scan(&m.ID, &m.Filename, &m.LastUpdate)
	if err != nil {
		return nil, dbErr("get media", err)
	}
	return &m, nil
}

func (s *Store) UpdateMedia(ctx context.Context, m *models.Media) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE media SET filename = $2, last_update = $3 WHERE id = $1`,
		m.ID, m.Filename, m.LastUpdate)
	return affectedOrNotFound("update media", res, err)
}

func (s *Store) RemoveMedia(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM media WHERE id = $1`, id)
	return affectedOrNotFound("remove media", res, err)
}

// Users

func (s *Store) AddUser(ctx context.Context, u *models.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, password, access_level, last_logged_in) VALUES ($1, $2, $3, $4)`,
		u.Name, u.Password, string(u.AccessLevel), nullTime(u.LastLoggedIn))
	return dbErr("add user", err)
}

func (s *Store) GetUser(ctx context.Context, name string) (*models.User, error) {
	var u models.User
	var level string
	var lastLoggedIn sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT name, password, access_level, last_logged_in FROM users WHERE name = $1`, name).
		Scan(&u.Name, &u.Password, &level, &lastLoggedIn)
	if err != nil {
		return nil, dbErr("get user", err)
	}
	u.AccessLevel = models.AccessLevel(level)
	if lastLoggedIn.Valid {
		u.LastLoggedIn = lastLoggedIn.Time
	}
	return &u, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
