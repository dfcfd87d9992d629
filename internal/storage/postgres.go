package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/TreeSnap/Export-Service/internal/models"
	"github.com/lib/pq"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// PostgresStorage implements Storage for PostgreSQL. Observations, users,
// filters and collections are owned by the main application; this store only
// creates the tables it writes to.
type PostgresStorage struct {
	db *sql.DB
}

// Connect establishes connection to PostgreSQL
func (p *PostgresStorage) Connect(connectionString string) error {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return eris.Wrap(err, "storage: open postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return eris.Wrap(err, "storage: ping postgres")
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	p.db = db

	if err := p.createTables(ctx); err != nil {
		return eris.Wrap(err, "storage: create tables")
	}

	zap.L().Info("[DB] connected to PostgreSQL")
	return nil
}

func (p *PostgresStorage) createTables(ctx context.Context) error {
	query := `
  CREATE TABLE IF NOT EXISTS files (
      id UUID PRIMARY KEY,
      path VARCHAR(500) NOT NULL,
      name VARCHAR(255) NOT NULL,
      user_id BIGINT,
      auto_delete BOOLEAN NOT NULL DEFAULT true,
      created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
  );
  CREATE TABLE IF NOT EXISTS download_statistics (
      id BIGSERIAL PRIMARY KEY,
      user_id BIGINT,
      observations_count BIGINT NOT NULL,
      created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
  );
  CREATE INDEX IF NOT EXISTS idx_files_user_id ON files(user_id);
  CREATE INDEX IF NOT EXISTS idx_download_statistics_created_at ON download_statistics(created_at DESC);
  `
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return err
	}

	// Idempotent: the observations table belongs to the main application.
	alterQueries := []string{
		`ALTER TABLE observations ADD COLUMN IF NOT EXISTS fuzzy_coords JSONB`,
	}
	for _, q := range alterQueries {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			zap.L().Warn("[DB] warning during ALTER", zap.String("query", q), zap.Error(err))
		}
	}
	return nil
}

const observationColumns = `
  o.id, o.user_id, o.observation_category, o.data, o.latitude, o.longitude,
  o.location_accuracy, o.fuzzy_coords, o.address, o.images, COALESCE(o.thumbnail, ''),
  o.collection_date, o.is_private, o.has_private_comments, COALESCE(o.mobile_id, ''),
  COALESCE(o.custom_id, ''), COALESCE(l.genus, ''), COALESCE(l.species, ''),
  u.id, u.name, u.is_anonymous`

const observationFrom = `
  FROM observations o
  JOIN users u ON u.id = o.user_id
  LEFT JOIN latin_names l ON l.id = o.latin_name_id`

// whereBuilder accumulates AND-ed conditions with numbered placeholders.
type whereBuilder struct {
	conds []string
	args  []any
}

func (b *whereBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *whereBuilder) add(cond string) {
	b.conds = append(b.conds, cond)
}

func (b *whereBuilder) String() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

// selectionWhere compiles sel into the same predicate Matches applies in memory.
func selectionWhere(sel models.Selection) *whereBuilder {
	b := &whereBuilder{}

	if !sel.IncludePrivate {
		if sel.ViewerID != 0 {
			b.add("(o.is_private = false OR o.user_id = " + b.arg(sel.ViewerID) + ")")
		} else {
			b.add("o.is_private = false")
		}
	}
	if sel.OwnerID != 0 {
		b.add("o.user_id = " + b.arg(sel.OwnerID))
	}
	if sel.CollectionID != 0 {
		b.add("o.id IN (SELECT observation_id FROM collection_observation WHERE collection_id = " + b.arg(sel.CollectionID) + ")")
	}
	if sel.Category != "" {
		b.add("o.observation_category = " + b.arg(sel.Category))
	}
	if sel.Search != "" {
		term := b.arg("%" + sel.Search + "%")
		b.add("(o.observation_category ILIKE " + term +
			" OR o.mobile_id ILIKE " + term +
			" OR o.custom_id ILIKE " + term +
			" OR o.address->>'formatted' ILIKE " + term +
			" OR o.data->>'otherLabel' ILIKE " + term + ")")
	}
	if r := sel.Rules; r != nil {
		if len(r.Categories) > 0 {
			b.add("o.observation_category = ANY(" + b.arg(pq.Array(r.Categories)) + ")")
		}
		if r.From != nil {
			b.add("o.collection_date >= " + b.arg(*r.From))
		}
		if r.To != nil {
			b.add("o.collection_date <= " + b.arg(*r.To))
		}
		addComponent(b, TypeState, r.State)
		addComponent(b, TypeCounty, r.County)
		addComponent(b, TypeCity, r.City)
	}
	return b
}

func addComponent(b *whereBuilder, kind, name string) {
	if name == "" {
		return
	}
	value := b.arg(name)
	b.add("EXISTS (SELECT 1 FROM jsonb_array_elements(COALESCE(o.address->'components', '[]'::jsonb)) c" +
		" WHERE c->'types' ? " + b.arg(kind) +
		" AND (lower(c->>'long_name') = lower(" + value + ") OR lower(c->>'short_name') = lower(" + value + ")))")
}

func (p *PostgresStorage) CountObservations(ctx context.Context, sel models.Selection) (int64, error) {
	where := selectionWhere(sel)
	var total int64
	err := p.db.QueryRowContext(ctx, "SELECT COUNT(*)"+observationFrom+where.String(), where.args...).Scan(&total)
	if err != nil {
		return 0, eris.Wrap(err, "storage: count observations")
	}
	return total, nil
}

// ChunkObservations pages by id so each batch is an index range scan and
// rows inserted mid-export cannot shift later pages.
func (p *PostgresStorage) ChunkObservations(ctx context.Context, sel models.Selection, size int, fn func([]models.Observation) error) error {
	if size <= 0 {
		return eris.New("storage: chunk size must be positive")
	}

	var lastID int64
	for {
		where := selectionWhere(sel)
		where.add("o.id > " + where.arg(lastID))
		query := "SELECT" + observationColumns + observationFrom + where.String() +
			" ORDER BY o.id LIMIT " + where.arg(size)

		batch, err := p.queryObservations(ctx, query, where.args...)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := p.loadRelations(ctx, batch); err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < size {
			return nil
		}
		lastID = batch[len(batch)-1].ID
	}
}

func (p *PostgresStorage) GetObservation(ctx context.Context, id int64) (models.Observation, error) {
	query := "SELECT" + observationColumns + observationFrom + " WHERE o.id = $1"
	obs, err := p.queryObservations(ctx, query, id)
	if err != nil {
		return models.Observation{}, err
	}
	if len(obs) == 0 {
		return models.Observation{}, eris.Wrapf(ErrNotFound, "storage: observation %d", id)
	}
	if err := p.loadRelations(ctx, obs); err != nil {
		return models.Observation{}, err
	}
	return obs[0], nil
}

func (p *PostgresStorage) queryObservations(ctx context.Context, query string, args ...any) ([]models.Observation, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "storage: query observations")
	}
	defer func(rows *sql.Rows) {
		if cerr := rows.Close(); cerr != nil {
			zap.L().Warn("[DB] error closing rows", zap.Error(cerr))
		}
	}(rows)

	var out []models.Observation
	for rows.Next() {
		var (
			o                            models.Observation
			data, fuzzy, address, images []byte
			genus, species               string
		)
		if err := rows.Scan(
			&o.ID,
			&o.UserID,
			&o.Category,
			&data,
			&o.Latitude,
			&o.Longitude,
			&o.LocationAccuracy,
			&fuzzy,
			&address,
			&images,
			&o.Thumbnail,
			&o.CollectionDate,
			&o.IsPrivate,
			&o.HasPrivateComments,
			&o.MobileID,
			&o.CustomID,
			&genus,
			&species,
			&o.Owner.ID,
			&o.Owner.Name,
			&o.Owner.IsAnonymous,
		); err != nil {
			return nil, eris.Wrap(err, "storage: scan observation")
		}
		o.LatinName = models.LatinName{Genus: genus, Species: species}

		if err := decodeJSON(data, &o.Data); err != nil {
			return nil, eris.Wrapf(err, "storage: decode data of observation %d", o.ID)
		}
		if err := decodeJSON(address, &o.Address); err != nil {
			return nil, eris.Wrapf(err, "storage: decode address of observation %d", o.ID)
		}
		if err := decodeJSON(images, &o.Images); err != nil {
			return nil, eris.Wrapf(err, "storage: decode images of observation %d", o.ID)
		}
		if len(fuzzy) > 0 {
			var c models.Coordinates
			if err := json.Unmarshal(fuzzy, &c); err != nil {
				return nil, eris.Wrapf(err, "storage: decode fuzzy coords of observation %d", o.ID)
			}
			o.FuzzyCoords = &c
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "storage: iterate observations")
}

// loadRelations attaches flags, collections and confirmations to a batch
// with one query per relation.
func (p *PostgresStorage) loadRelations(ctx context.Context, batch []models.Observation) error {
	ids := make([]int64, len(batch))
	index := make(map[int64]*models.Observation, len(batch))
	for i := range batch {
		ids[i] = batch[i].ID
		index[batch[i].ID] = &batch[i]
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT observation_id, id, user_id, reason, COALESCE(comments, '') FROM flags WHERE observation_id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return eris.Wrap(err, "storage: query flags")
	}
	for rows.Next() {
		var obsID int64
		var f models.Flag
		if err := rows.Scan(&obsID, &f.ID, &f.UserID, &f.Reason, &f.Comments); err != nil {
			rows.Close()
			return eris.Wrap(err, "storage: scan flag")
		}
		index[obsID].Flags = append(index[obsID].Flags, f)
	}
	rows.Close()

	rows, err = p.db.QueryContext(ctx,
		`SELECT co.observation_id, c.id, c.label
       FROM collection_observation co JOIN collections c ON c.id = co.collection_id
      WHERE co.observation_id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return eris.Wrap(err, "storage: query collections")
	}
	for rows.Next() {
		var obsID int64
		var c models.CollectionRef
		if err := rows.Scan(&obsID, &c.ID, &c.Label); err != nil {
			rows.Close()
			return eris.Wrap(err, "storage: scan collection")
		}
		index[obsID].Collections = append(index[obsID].Collections, c)
	}
	rows.Close()

	rows, err = p.db.QueryContext(ctx,
		`SELECT observation_id, id, user_id, correct FROM confirmations WHERE observation_id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return eris.Wrap(err, "storage: query confirmations")
	}
	defer rows.Close()
	for rows.Next() {
		var obsID int64
		var c models.Confirmation
		if err := rows.Scan(&obsID, &c.ID, &c.UserID, &c.Correct); err != nil {
			return eris.Wrap(err, "storage: scan confirmation")
		}
		o := index[obsID]
		o.Confirmations = append(o.Confirmations, c)
		o.ConfirmationsCount = len(o.Confirmations)
	}
	return eris.Wrap(rows.Err(), "storage: iterate confirmations")
}

func (p *PostgresStorage) SaveFuzzyCoords(ctx context.Context, observationID int64, coords models.Coordinates) error {
	raw, err := json.Marshal(coords)
	if err != nil {
		return eris.Wrap(err, "storage: encode fuzzy coords")
	}
	res, err := p.db.ExecContext(ctx, `UPDATE observations SET fuzzy_coords = $1 WHERE id = $2`, raw, observationID)
	if err != nil {
		return eris.Wrap(err, "storage: save fuzzy coords")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotFound, "storage: observation %d", observationID)
	}
	return nil
}

func (p *PostgresStorage) GetFilter(ctx context.Context, id int64) (models.Filter, error) {
	var f models.Filter
	var rules []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, rules, is_public FROM filters WHERE id = $1`, id,
	).Scan(&f.ID, &f.UserID, &f.Name, &rules, &f.IsPublic)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Filter{}, eris.Wrapf(ErrNotFound, "storage: filter %d", id)
	}
	if err != nil {
		return models.Filter{}, eris.Wrap(err, "storage: get filter")
	}
	if err := decodeJSON(rules, &f.Rules); err != nil {
		return models.Filter{}, eris.Wrapf(err, "storage: decode rules of filter %d", id)
	}
	return f, nil
}

func (p *PostgresStorage) GetCollection(ctx context.Context, id int64) (models.Collection, error) {
	var c models.Collection
	var members pq.Int64Array
	err := p.db.QueryRowContext(ctx, `
  SELECT c.id, c.label, COALESCE(array_agg(cu.user_id) FILTER (WHERE cu.user_id IS NOT NULL), '{}')
  FROM collections c
  LEFT JOIN collection_user cu ON cu.collection_id = c.id
  WHERE c.id = $1
  GROUP BY c.id, c.label`, id,
	).Scan(&c.ID, &c.Label, &members)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Collection{}, eris.Wrapf(ErrNotFound, "storage: collection %d", id)
	}
	if err != nil {
		return models.Collection{}, eris.Wrap(err, "storage: get collection")
	}
	c.UserIDs = []int64(members)
	return c, nil
}

func (p *PostgresStorage) SaveFileArtifact(ctx context.Context, a models.FileArtifact) error {
	_, err := p.db.ExecContext(ctx, `
  INSERT INTO files (id, path, name, user_id, auto_delete, created_at)
  VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.Path, a.Name, a.UserID, a.AutoDelete, a.CreatedAt)
	return eris.Wrap(err, "storage: save file artifact")
}

func (p *PostgresStorage) GetFileArtifact(ctx context.Context, id string) (models.FileArtifact, error) {
	var a models.FileArtifact
	var userID sql.NullInt64
	err := p.db.QueryRowContext(ctx,
		`SELECT id, path, name, user_id, auto_delete, created_at FROM files WHERE id = $1`, id,
	).Scan(&a.ID, &a.Path, &a.Name, &userID, &a.AutoDelete, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FileArtifact{}, eris.Wrapf(ErrNotFound, "storage: file %s", id)
	}
	if err != nil {
		return models.FileArtifact{}, eris.Wrap(err, "storage: get file artifact")
	}
	if userID.Valid {
		a.UserID = &userID.Int64
	}
	return a, nil
}

func (p *PostgresStorage) GetUserArtifacts(ctx context.Context, userID int64) ([]models.FileArtifact, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, path, name, auto_delete, created_at FROM files WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, eris.Wrap(err, "storage: query user files")
	}
	defer rows.Close()

	var files []models.FileArtifact
	for rows.Next() {
		a := models.FileArtifact{UserID: &userID}
		if err := rows.Scan(&a.ID, &a.Path, &a.Name, &a.AutoDelete, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "storage: scan user file")
		}
		files = append(files, a)
	}
	return files, eris.Wrap(rows.Err(), "storage: iterate user files")
}

func (p *PostgresStorage) DeleteUserArtifacts(ctx context.Context, userID int64) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM files WHERE user_id = $1`, userID)
	if err != nil {
		return 0, eris.Wrap(err, "storage: delete user files")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (p *PostgresStorage) RecordDownload(ctx context.Context, stat models.DownloadStatistic) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO download_statistics (user_id, observations_count, created_at) VALUES ($1, $2, $3)`,
		stat.UserID, stat.ObservationsCount, stat.CreatedAt)
	return eris.Wrap(err, "storage: record download")
}

func (p *PostgresStorage) Ping(ctx context.Context) error {
	if p.db == nil {
		return eris.New("storage: postgres not connected")
	}
	return p.db.PingContext(ctx)
}

func (p *PostgresStorage) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func decodeJSON(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
