package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TobiSchelling/reviewpulse/internal/feedback"
)

const itemColumns = `id, project_id, platform, external_id, text, rating, sentiment, author, url, created_at, fetched_at, metadata`

const (
	criticalClause = `((rating IS NOT NULL AND rating <= 3) OR sentiment = 'NEG')`
	positiveClause = `((rating IS NOT NULL AND rating >= 4) OR sentiment = 'POS')`
)

// UpsertItem inserts an item or, when (platform, external_id, project_id)
// already exists, overwrites its fields with the new values. An assigned
// sentiment is kept when the incoming item carries none.
func (db *DB) UpsertItem(ctx context.Context, it *feedback.Item) error {
	if err := it.Validate(); err != nil {
		return err
	}
	var metadata any
	if len(it.Metadata) > 0 {
		data, err := json.Marshal(it.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
		metadata = string(data)
	}
	fetchedAt := it.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = now()
	}
	createdAt := it.CreatedAt
	if createdAt.IsZero() {
		createdAt = fetchedAt
	}

	_, err := db.conn.ExecContext(ctx, db.rebind(`
		INSERT INTO items (project_id, platform, external_id, text, rating, sentiment, author, url,
			created_at, fetched_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (platform, external_id, project_id) DO UPDATE SET
			text = excluded.text,
			rating = excluded.rating,
			sentiment = COALESCE(excluded.sentiment, items.sentiment),
			author = excluded.author,
			url = excluded.url,
			created_at = excluded.created_at,
			fetched_at = excluded.fetched_at,
			metadata = excluded.metadata`),
		it.ProjectID, string(it.Platform), it.ExternalID, it.Text, intOrNil(it.Rating), sentimentOrNil(it.Sentiment),
		it.Author, it.URL, createdAt.UTC(), fetchedAt.UTC(), metadata,
	)
	if err != nil {
		return fmt.Errorf("upserting item %s/%s: %w", it.Platform, it.ExternalID, err)
	}
	return nil
}

// GetItem looks up an item by its dedup key. Returns nil if absent.
func (db *DB) GetItem(ctx context.Context, projectID string, platform feedback.Platform, externalID string) (*feedback.Item, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(
		`SELECT `+itemColumns+` FROM items WHERE project_id = ? AND platform = ? AND external_id = ?`),
		projectID, string(platform), externalID)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return it, nil
}

// GetBucketItems returns up to limit items of the given bucket, newest first.
func (db *DB) GetBucketItems(ctx context.Context, projectID string, bucket feedback.Bucket, limit int) ([]feedback.Item, error) {
	clause, err := bucketClause(bucket)
	if err != nil {
		return nil, err
	}
	return db.queryItems(ctx,
		`SELECT `+itemColumns+` FROM items WHERE project_id = ? AND `+clause+`
		ORDER BY created_at DESC, id DESC LIMIT ?`, projectID, limit)
}

// GetRecentItems returns up to limit items of any kind, newest first.
func (db *DB) GetRecentItems(ctx context.Context, projectID string, limit int) ([]feedback.Item, error) {
	return db.queryItems(ctx,
		`SELECT `+itemColumns+` FROM items WHERE project_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, projectID, limit)
}

// GetUnclassifiedItems returns items with neither rating nor sentiment.
func (db *DB) GetUnclassifiedItems(ctx context.Context, projectID string, limit int) ([]feedback.Item, error) {
	return db.queryItems(ctx,
		`SELECT `+itemColumns+` FROM items WHERE project_id = ? AND rating IS NULL AND sentiment IS NULL
		ORDER BY created_at DESC, id DESC LIMIT ?`, projectID, limit)
}

// SetItemSentiment records a classifier verdict for an item.
func (db *DB) SetItemSentiment(ctx context.Context, itemID int64, s feedback.Sentiment) error {
	_, err := db.conn.ExecContext(ctx, db.rebind(`UPDATE items SET sentiment = ? WHERE id = ?`), string(s), itemID)
	if err != nil {
		return fmt.Errorf("setting sentiment: %w", err)
	}
	return nil
}

// CountItems returns the number of items stored for a project.
func (db *DB) CountItems(ctx context.Context, projectID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, db.rebind(`SELECT COUNT(*) FROM items WHERE project_id = ?`), projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting items: %w", err)
	}
	return n, nil
}

// CountBucket returns the number of items in a bucket for a project.
func (db *DB) CountBucket(ctx context.Context, projectID string, bucket feedback.Bucket) (int, error) {
	clause, err := bucketClause(bucket)
	if err != nil {
		return 0, err
	}
	var n int
	err = db.conn.QueryRowContext(ctx, db.rebind(
		`SELECT COUNT(*) FROM items WHERE project_id = ? AND `+clause), projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s items: %w", bucket, err)
	}
	return n, nil
}

func bucketClause(bucket feedback.Bucket) (string, error) {
	switch bucket {
	case feedback.BucketCritical:
		return criticalClause, nil
	case feedback.BucketPositive:
		return positiveClause, nil
	}
	return "", fmt.Errorf("unknown bucket %q", bucket)
}

func (db *DB) queryItems(ctx context.Context, query string, args ...any) ([]feedback.Item, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	var items []feedback.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func scanItem(row rowScanner) (*feedback.Item, error) {
	var (
		it        feedback.Item
		platform  string
		rating    sql.NullInt64
		sentiment sql.NullString
		author    sql.NullString
		url       sql.NullString
		metadata  sql.NullString
	)
	if err := row.Scan(&it.ID, &it.ProjectID, &platform, &it.ExternalID, &it.Text, &rating, &sentiment,
		&author, &url, &it.CreatedAt, &it.FetchedAt, &metadata); err != nil {
		return nil, err
	}
	it.Platform = feedback.Platform(platform)
	it.CreatedAt = it.CreatedAt.UTC()
	it.FetchedAt = it.FetchedAt.UTC()
	if rating.Valid {
		r := int(rating.Int64)
		it.Rating = &r
	}
	if sentiment.Valid {
		s := feedback.Sentiment(sentiment.String)
		it.Sentiment = &s
	}
	if author.Valid {
		it.Author = &author.String
	}
	if url.Valid {
		it.URL = &url.String
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &it.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for item %d: %w", it.ID, err)
		}
	}
	return &it, nil
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func sentimentOrNil(s *feedback.Sentiment) any {
	if s == nil {
		return nil
	}
	return string(*s)
}
