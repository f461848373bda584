package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pesakit/smsledger/internal/domain"
)

// CreateCategory inserts a new top-level category.
func (s *Store) CreateCategory(ctx context.Context, c *domain.Category) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (id, name) VALUES (?, ?)`, c.ID, c.Name)
	if err != nil {
		return fmt.Errorf("failed to create category %s: %w", c.Name, err)
	}
	return nil
}

// CreateCategoryItem inserts a new item under an existing category.
func (s *Store) CreateCategoryItem(ctx context.Context, item *domain.CategoryItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO category_items (id, category_id, name) VALUES (?, ?, ?)`,
		item.ID, item.CategoryID, item.Name)
	if err != nil {
		return fmt.Errorf("failed to create category item %s: %w", item.Name, err)
	}
	return nil
}

// CategoryByID fetches a category by primary key.
func (s *Store) CategoryByID(ctx context.Context, id string) (*domain.Category, error) {
	var c domain.Category
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM categories WHERE id = ?`, id).Scan(&c.ID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan category: %w", err)
	}
	return &c, nil
}

// ListCategoryItems returns a category's items ordered by name.
func (s *Store) ListCategoryItems(ctx context.Context, categoryID string) ([]*domain.CategoryItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category_id, name FROM category_items
		 WHERE category_id = ? ORDER BY name`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items for category %s: %w", categoryID, err)
	}
	defer rows.Close()

	var items []*domain.CategoryItem
	for rows.Next() {
		var item domain.CategoryItem
		if err := rows.Scan(&item.ID, &item.CategoryID, &item.Name); err != nil {
			return nil, fmt.Errorf("failed to scan category item: %w", err)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// DeleteCategoryItem removes an item and reverts every transaction that
// referenced it to uncategorized. The transactions themselves survive:
// deleting taxonomy never deletes financial history.
func (s *Store) DeleteCategoryItem(ctx context.Context, itemID string) error {
	now := time.Now().Unix()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE transactions
			 SET category_item_id = NULL, status = ?, updated_at = ?
			 WHERE category_item_id = ?`,
			string(domain.StatusUncategorized), now, itemID,
		)
		if err != nil {
			return fmt.Errorf("failed to unlink transactions from item %s: %w", itemID, err)
		}

		res, err := tx.Exec(`DELETE FROM category_items WHERE id = ?`, itemID)
		if err != nil {
			return fmt.Errorf("failed to delete category item %s: %w", itemID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("category item %s: %w", itemID, ErrNotFound)
		}
		return nil
	})
}

// DeleteCategory removes a category and cascades to its items; transactions
// referencing those items are reverted to uncategorized first.
func (s *Store) DeleteCategory(ctx context.Context, categoryID string) error {
	now := time.Now().Unix()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE transactions
			 SET category_item_id = NULL, status = ?, updated_at = ?
			 WHERE category_item_id IN (SELECT id FROM category_items WHERE category_id = ?)`,
			string(domain.StatusUncategorized), now, categoryID,
		)
		if err != nil {
			return fmt.Errorf("failed to unlink transactions from category %s: %w", categoryID, err)
		}

		// Items cascade via the FK, but delete explicitly so the behavior
		// doesn't depend on pragma state.
		if _, err := tx.Exec(`DELETE FROM category_items WHERE category_id = ?`, categoryID); err != nil {
			return fmt.Errorf("failed to delete items of category %s: %w", categoryID, err)
		}

		res, err := tx.Exec(`DELETE FROM categories WHERE id = ?`, categoryID)
		if err != nil {
			return fmt.Errorf("failed to delete category %s: %w", categoryID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("category %s: %w", categoryID, ErrNotFound)
		}
		return nil
	})
}
