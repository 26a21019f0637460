package feature

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"
)

//go:embed sql/schema.sql
var schemaSQL string

// Store is the durable half of the feature schema registry, persisted
// to the same sqlite database as alerts via database/sql +
// modernc.org/sqlite.
type Store struct {
	db *sql.DB
}

// Open runs the embedded schema against db and returns a Store.
func Open(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("feature: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save persists s, overwriting any existing row for the same version.
func (st *Store) Save(ctx context.Context, s Schema) error {
	featuresJSON, err := json.Marshal(s.Features)
	if err != nil {
		return fmt.Errorf("feature: marshal features: %w", err)
	}
	typesJSON, err := json.Marshal(s.FeatureTypes)
	if err != nil {
		return fmt.Errorf("feature: marshal feature types: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err = st.db.ExecContext(ctx, `
INSERT INTO feature_schema (version, name, description, features, feature_types, created_at, checksum)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(version) DO UPDATE SET
  name=excluded.name, description=excluded.description, features=excluded.features,
  feature_types=excluded.feature_types, created_at=excluded.created_at, checksum=excluded.checksum`,
		s.Version, s.Name, s.Description, string(featuresJSON), string(typesJSON), s.CreatedAt, s.Checksum)
	if err != nil {
		return fmt.Errorf("feature: save schema %s: %w", s.Version, err)
	}
	return nil
}

// Load reads back the schema for version.
func (st *Store) Load(ctx context.Context, version string) (Schema, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var s Schema
	var featuresJSON, typesJSON string
	row := st.db.QueryRowContext(ctx,
		`SELECT version, name, description, features, feature_types, created_at, checksum
		 FROM feature_schema WHERE version=?`, version)
	if err := row.Scan(&s.Version, &s.Name, &s.Description, &featuresJSON, &typesJSON, &s.CreatedAt, &s.Checksum); err != nil {
		return Schema{}, fmt.Errorf("feature: load schema %s: %w", version, err)
	}
	if err := json.Unmarshal([]byte(featuresJSON), &s.Features); err != nil {
		return Schema{}, fmt.Errorf("feature: unmarshal features: %w", err)
	}
	if err := json.Unmarshal([]byte(typesJSON), &s.FeatureTypes); err != nil {
		return Schema{}, fmt.Errorf("feature: unmarshal feature types: %w", err)
	}
	return s, nil
}

// LoadAll reads every persisted schema into r, for startup warm-up.
func (st *Store) LoadAll(ctx context.Context, r *Registry) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := st.db.QueryContext(ctx, `SELECT version FROM feature_schema`)
	if err != nil {
		return fmt.Errorf("feature: list schemas: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return fmt.Errorf("feature: scan version: %w", err)
		}
		versions = append(versions, v)
	}

	for _, v := range versions {
		s, err := st.Load(ctx, v)
		if err != nil {
			return err
		}
		r.Load(s)
	}
	return nil
}
