/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jerry-enebeli/linkcache/internal/apierror"
	"github.com/jerry-enebeli/linkcache/model"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// nowMillis is evaluated by the server so every worker compares against the same clock.
const nowMillis = `(EXTRACT(EPOCH FROM clock_timestamp()) * 1000)::BIGINT`

const linkColumns = `
	canonical_id, platform, view_url, chain, contract, token, custom_id,
	full_data, media_uri, price, last_error_message, last_tried_to_update,
	last_successfully_updated, failed_since, is_locked_since`

type scanner interface {
	Scan(dest ...any) error
}

func scanLink(row scanner) (*model.LinkRecord, error) {
	record := model.LinkRecord{}
	var fullData []byte
	err := row.Scan(
		&record.CanonicalID,
		&record.Platform,
		&record.ViewURL,
		&record.Chain,
		&record.Contract,
		&record.Token,
		&record.CustomID,
		&fullData,
		&record.MediaURI,
		&record.Price,
		&record.LastErrorMessage,
		&record.LastTriedToUpdate,
		&record.LastSuccessfullyUpdated,
		&record.FailedSince,
		&record.IsLockedSince,
	)
	if err != nil {
		return nil, err
	}

	if len(fullData) > 0 {
		card := model.NormalizedCard{}
		if err := json.Unmarshal(fullData, &card); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal full data", err)
		}
		record.FullData = &card
	}

	return &record, nil
}

// FindByCanonicalID returns nil without an error when no record exists.
func (d Datasource) FindByCanonicalID(ctx context.Context, canonicalID string) (*model.LinkRecord, error) {
	ctx, span := otel.Tracer("link store").Start(ctx, "Finding link by canonical id")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+linkColumns+`
		FROM linkcache.nft_links
		WHERE canonical_id = $1
	`, canonicalID)

	record, err := scanLink(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve link", err)
	}
	return record, nil
}

func (d Datasource) FindByCanonicalIDs(ctx context.Context, canonicalIDs []string) ([]*model.LinkRecord, error) {
	if len(canonicalIDs) == 0 {
		return []*model.LinkRecord{}, nil
	}

	ctx, span := otel.Tracer("link store").Start(ctx, "Finding links by canonical ids")
	defer span.End()
	span.SetAttributes(attribute.Int("link.count", len(canonicalIDs)))

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+linkColumns+`
		FROM linkcache.nft_links
		WHERE canonical_id = ANY($1)
	`, pq.Array(canonicalIDs))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve links", err)
	}
	defer rows.Close()

	records := []*model.LinkRecord{}
	for rows.Next() {
		record, err := scanLink(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan link data", err)
		}
		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over links", err)
	}

	return records, nil
}

// InsertPendingOrDoNothing creates a never-tried record. A record that already
// exists is left untouched and no error is returned.
func (d Datasource) InsertPendingOrDoNothing(ctx context.Context, pending model.PendingLink) error {
	ctx, span := otel.Tracer("link store").Start(ctx, "Inserting pending link")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO linkcache.nft_links (canonical_id, platform, view_url, chain, contract, token, custom_id, last_tried_to_update)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
		ON CONFLICT (canonical_id) DO NOTHING
	`, pending.CanonicalID, pending.Platform, pending.ViewURL, pending.Chain, pending.Contract, pending.Token, pending.CustomID)
	if err != nil {
		span.RecordError(err)
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return nil
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to insert pending link", err)
	}
	return nil
}

// LockForProcessing claims the record for one worker. The row is selected with
// FOR UPDATE SKIP LOCKED so a concurrent claimer sees no row instead of waiting,
// and the lock flag is written in the same transaction. A nil record means
// another worker holds the lock or the record is not yet due.
func (d Datasource) LockForProcessing(ctx context.Context, canonicalID string, lockTTL, minUpdateInterval time.Duration) (*model.LinkRecord, error) {
	ctx, span := otel.Tracer("link store").Start(ctx, "Locking link for processing")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var lockedID string
	err = tx.QueryRowContext(ctx, `
		SELECT canonical_id
		FROM linkcache.nft_links
		WHERE canonical_id = $1
		  AND COALESCE(is_locked_since, 0) < `+nowMillis+` - $2
		  AND last_tried_to_update < `+nowMillis+` - $3
		FOR UPDATE SKIP LOCKED
	`, canonicalID, lockTTL.Milliseconds(), minUpdateInterval.Milliseconds()).Scan(&lockedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to select link for locking", err)
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE linkcache.nft_links
		SET is_locked_since = `+nowMillis+`
		WHERE canonical_id = $1
		RETURNING `+linkColumns, lockedID)
	record, err := scanLink(row)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock link", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	return record, nil
}

// UpdateWithSuccess stores the card with its projections, clears the error
// state and releases the lock.
func (d Datasource) UpdateWithSuccess(ctx context.Context, card *model.NormalizedCard) error {
	ctx, span := otel.Tracer("link store").Start(ctx, "Updating link with success")
	defer span.End()

	fullData, err := json.Marshal(card)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal full data", err)
	}

	pending := model.NewPendingLink(card.Identifier)
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE linkcache.nft_links
		SET full_data = $2,
			chain = COALESCE($3, chain),
			contract = COALESCE($4, contract),
			token = COALESCE($5, token),
			custom_id = COALESCE($6, custom_id),
			media_uri = $7,
			price = $8,
			last_error_message = NULL,
			failed_since = NULL,
			is_locked_since = NULL,
			last_tried_to_update = GREATEST(last_tried_to_update, `+nowMillis+`),
			last_successfully_updated = `+nowMillis+`
		WHERE canonical_id = $1
	`, pending.CanonicalID, fullData, pending.Chain, pending.Contract, pending.Token, pending.CustomID, card.MediaURI(), card.PriceAmount())
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update link", err)
	}

	return requireOneRow(result, pending.CanonicalID)
}

// UpdateWithFailure records the error, keeps the start of an existing failure
// streak and releases the lock. Previously resolved data is left in place.
func (d Datasource) UpdateWithFailure(ctx context.Context, canonicalID string, message string) error {
	ctx, span := otel.Tracer("link store").Start(ctx, "Updating link with failure")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE linkcache.nft_links
		SET last_error_message = $2,
			failed_since = COALESCE(failed_since, `+nowMillis+`),
			is_locked_since = NULL,
			last_tried_to_update = GREATEST(last_tried_to_update, `+nowMillis+`)
		WHERE canonical_id = $1
	`, canonicalID, message)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update link", err)
	}

	return requireOneRow(result, canonicalID)
}

// FindRefreshCandidates lists records that LockForProcessing would currently
// accept, least recently tried first.
func (d Datasource) FindRefreshCandidates(ctx context.Context, lockTTL, minUpdateInterval time.Duration, limit int) ([]*model.LinkRecord, error) {
	ctx, span := otel.Tracer("link store").Start(ctx, "Finding refresh candidates")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+linkColumns+`
		FROM linkcache.nft_links
		WHERE COALESCE(is_locked_since, 0) < `+nowMillis+` - $1
		  AND last_tried_to_update < `+nowMillis+` - $2
		ORDER BY last_tried_to_update ASC
		LIMIT $3
	`, lockTTL.Milliseconds(), minUpdateInterval.Milliseconds(), limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve refresh candidates", err)
	}
	defer rows.Close()

	records := []*model.LinkRecord{}
	for rows.Next() {
		record, err := scanLink(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan link data", err)
		}
		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over refresh candidates", err)
	}

	return records, nil
}

func requireOneRow(result sql.Result, canonicalID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Link not found: "+canonicalID, nil)
	}
	return nil
}
