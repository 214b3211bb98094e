package materialize

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"assetforge/internal/blob"
	"assetforge/internal/capacity"
	"assetforge/internal/definition"
	"assetforge/internal/fieldtype"
	"assetforge/internal/logging"
	"assetforge/internal/schema"
)

// Repository читает и пишет строки сгенерированных таблиц.
// Пул соединений общий с gorm, запросы строятся вручную по рабочему типу.
type Repository struct {
	db      *sqlx.DB
	gdb     *gorm.DB
	dialect schema.Dialect
	blobs   blob.Store
	now     func() time.Time

	mu      sync.Mutex
	entropy io.Reader
}

// bindDriver: имя драйвера для sqlx (нужно только для стиля плейсхолдеров).
func bindDriver(dialect string) string {
	switch dialect {
	case schema.Postgres:
		return "pgx"
	case schema.MySQL:
		return "mysql"
	case schema.SQLServer:
		return "sqlserver"
	default:
		return "sqlite3"
	}
}

func NewRepository(gdb *gorm.DB, blobs blob.Store) (*Repository, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	d := schema.DialectOf(gdb)
	return &Repository{
		db:      sqlx.NewDb(sqlDB, bindDriver(d.Name)),
		gdb:     gdb,
		dialect: d,
		blobs:   blobs,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}, nil
}

func (r *Repository) newID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(r.now()), r.entropy).String()
}

func (r *Repository) q(ident string) string { return r.dialect.Quote(ident) }

func (r *Repository) selectList(t *AssetType) string {
	cols := t.Columns()
	for i, c := range cols {
		cols[i] = r.q(c)
	}
	return strings.Join(cols, ", ")
}

// load собирает Entity из строки драйвера.
func (t *AssetType) load(row map[string]any) *Entity {
	e := &Entity{
		typ:    t,
		ID:     fieldtype.AsString(row["id"]),
		values: make(map[string]any, len(t.fields)),
		dirty:  map[string]struct{}{},
	}
	e.EntitiesID = fieldtype.AsString(row["entities_id"])
	e.IsDeleted = fieldtype.AsBool(row["is_deleted"])
	if tm, ok := fieldtype.AsTime(row["date_creation"]); ok {
		e.DateCreation = tm
	}
	if tm, ok := fieldtype.AsTime(row["date_mod"]); ok {
		e.DateMod = tm
	}
	for _, f := range t.fields {
		v := row[f.Key]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		e.values[f.Key] = v
	}
	e.markClean()
	return e
}

func (r *Repository) scan(rows *sqlx.Rows, t *AssetType) ([]*Entity, error) {
	defer rows.Close()
	var out []*Entity
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		out = append(out, t.load(row))
	}
	return out, rows.Err()
}

// Get: запись по id, в том числе удалённая в корзину.
func (r *Repository) Get(ctx context.Context, t *AssetType, id string) (*Entity, error) {
	query := r.db.Rebind(fmt.Sprintf("select %s from %s where %s = ?", r.selectList(t), r.q(t.Table), r.q("id")))
	rows, err := r.db.QueryxContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", t.Table, err)
	}
	items, err := r.scan(rows, t)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", t.Table, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s %s: %w", t.SystemName, id, definition.ErrNotFound)
	}
	return items[0], nil
}

// checkRefs проверяет, что ссылки изменённых dropdown-полей существуют.
// Таблицы, которых нет в базе, пропускаются: такой список отображается как недоступный.
func (r *Repository) checkRefs(ctx context.Context, e *Entity) error {
	var errs fieldtype.ValidationErrors
	for _, key := range e.dirtyKeys() {
		f, _ := e.typ.Field(key)
		if f.Type != fieldtype.TypeDropdown || e.values[key] == nil {
			continue
		}
		target, ok := fieldtype.TargetTable(f.Options.String("itemtype"))
		if !ok || !schema.HasTable(ctx, r.gdb, target) {
			continue
		}
		ids := fieldtype.IDs(e.values[key], f.Options)
		if len(ids) == 0 {
			continue
		}
		query, args, err := sqlx.In(fmt.Sprintf("select %s from %s where %s in (?)", r.q("id"), r.q(target), r.q("id")), ids)
		if err != nil {
			return err
		}
		var found []string
		if err := r.db.SelectContext(ctx, &found, r.db.Rebind(query), args...); err != nil {
			return fmt.Errorf("failed to check references in %s: %w", target, err)
		}
		have := make(map[string]struct{}, len(found))
		for _, id := range found {
			have[id] = struct{}{}
		}
		for _, id := range ids {
			if _, ok := have[id]; !ok {
				errs = append(errs, &fieldtype.ValidationError{
					Code: fieldtype.CodeRefNotFound, Field: key,
					Message: fmt.Sprintf("%s %s not found", f.Options.String("itemtype"), id),
				})
			}
		}
	}
	return errs.Err()
}

func requiredMissing(e *Entity) error {
	var errs fieldtype.ValidationErrors
	for _, f := range e.typ.fields {
		if f.Options.Bool("required") && e.values[f.Key] == nil {
			errs = append(errs, &fieldtype.ValidationError{Code: fieldtype.CodeRequired, Field: f.Key, Message: "value is required"})
		}
	}
	return errs.Err()
}

// Create вставляет новую запись. Неактивное определение новых записей не принимает.
func (r *Repository) Create(ctx context.Context, e *Entity) error {
	t := e.typ
	if !t.Active {
		return fmt.Errorf("%s: %w", t.SystemName, ErrInactive)
	}
	if err := requiredMissing(e); err != nil {
		return err
	}
	if err := r.checkRefs(ctx, e); err != nil {
		return err
	}

	now := r.now().UTC()
	id := r.newID()
	cols := []string{"id", "entities_id", "is_deleted", "date_creation", "date_mod"}
	var entities any
	if e.EntitiesID != "" {
		entities = e.EntitiesID
	}
	args := []any{id, entities, false, now, now}
	for _, key := range e.dirtyKeys() {
		cols = append(cols, key)
		args = append(args, e.values[key])
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = r.q(c)
	}
	query := r.db.Rebind(fmt.Sprintf("insert into %s (%s) values (%s)",
		r.q(t.Table), strings.Join(quoted, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", t.Table, err)
	}
	e.ID = id
	e.DateCreation, e.DateMod = now, now
	e.markClean()
	logging.Debug("asset created", "type", t.SystemName, "id", id)
	return nil
}

// Update пишет изменённые поля и в той же транзакции вызывает хуки ёмкостей
// (история изменений и т.п.).
func (r *Repository) Update(ctx context.Context, e *Entity, actor string) error {
	t := e.typ
	keys := e.dirtyKeys()
	if len(keys) == 0 {
		return nil
	}
	if err := requiredMissing(e); err != nil {
		return err
	}
	if err := r.checkRefs(ctx, e); err != nil {
		return err
	}
	changes := e.Changes()
	now := r.now().UTC()

	sets := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys)+2)
	for _, k := range keys {
		sets = append(sets, r.q(k)+" = ?")
		args = append(args, e.values[k])
	}
	sets = append(sets, r.q("date_mod")+" = ?")
	args = append(args, now, e.ID)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, tx.Rebind(fmt.Sprintf("update %s set %s where %s = ? and %s = ?",
		r.q(t.Table), strings.Join(sets, ", "), r.q("id"), r.q("is_deleted"))), append(args, false)...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", t.Table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", t.SystemName, e.ID, definition.ErrNotFound)
	}

	hc := capacity.HookContext{
		Exec:    tx,
		Dialect: r.dialect,
		Table:   t.Table,
		ItemID:  e.ID,
		Actor:   actor,
		NewID:   r.newID,
		Now:     now,
	}
	for _, d := range t.capacities {
		if d.AfterUpdate == nil {
			continue
		}
		if err := d.AfterUpdate(ctx, hc, changes); err != nil {
			return fmt.Errorf("%s hook: %w", d.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.DateMod = now
	e.markClean()
	return nil
}

func (r *Repository) setDeleted(ctx context.Context, t *AssetType, id string, deleted bool) error {
	query := r.db.Rebind(fmt.Sprintf("update %s set %s = ?, %s = ? where %s = ? and %s = ?",
		r.q(t.Table), r.q("is_deleted"), r.q("date_mod"), r.q("id"), r.q("is_deleted")))
	res, err := r.db.ExecContext(ctx, query, deleted, r.now().UTC(), id, !deleted)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", t.Table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", t.SystemName, id, definition.ErrNotFound)
	}
	return nil
}

// Delete переносит запись в корзину.
func (r *Repository) Delete(ctx context.Context, t *AssetType, id string) error {
	return r.setDeleted(ctx, t, id, true)
}

// Restore возвращает запись из корзины.
func (r *Repository) Restore(ctx context.Context, t *AssetType, id string) error {
	return r.setDeleted(ctx, t, id, false)
}

// Purge удаляет запись физически вместе со строками вспомогательных таблиц ёмкостей.
// Файлы документов удаляются после коммита.
func (r *Repository) Purge(ctx context.Context, t *AssetType, id string) error {
	var keys []string
	if t.Has(capacity.Documents) {
		docs, err := r.Documents(ctx, t, id)
		if err != nil {
			return err
		}
		for _, d := range docs {
			keys = append(keys, d.BlobKey)
		}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range t.capacities {
		for _, rel := range d.RelationTables(t.Table) {
			q := tx.Rebind(fmt.Sprintf("delete from %s where %s = ?", r.q(rel.Name), r.q("items_id")))
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("failed to purge %s: %w", rel.Name, err)
			}
		}
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(fmt.Sprintf("delete from %s where %s = ?", r.q(t.Table), r.q("id"))), id)
	if err != nil {
		return fmt.Errorf("failed to purge %s: %w", t.Table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", t.SystemName, id, definition.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for _, k := range keys {
		if err := r.blobs.Delete(k); err != nil {
			logging.Warn("failed to delete document blob", "key", k, "error", err.Error())
		}
	}
	return nil
}

// List: страница записей по параметрам запроса.
func (r *Repository) List(ctx context.Context, t *AssetType, p ListParams) ([]*Entity, error) {
	sq, err := p.build(t, r.dialect)
	if err != nil {
		return nil, err
	}
	query := r.db.Rebind(fmt.Sprintf("select %s from %s where %s order by %s%s",
		r.selectList(t), r.q(t.Table), sq.where, sq.order, p.page(r.dialect)))
	rows, err := r.db.QueryxContext(ctx, query, sq.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.Table, err)
	}
	items, err := r.scan(rows, t)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.Table, err)
	}
	return items, nil
}

// Count: число записей под теми же фильтрами (без пагинации).
func (r *Repository) Count(ctx context.Context, t *AssetType, p ListParams) (int64, error) {
	sq, err := p.build(t, r.dialect)
	if err != nil {
		return 0, err
	}
	var n int64
	query := r.db.Rebind(fmt.Sprintf("select count(*) from %s where %s", r.q(t.Table), sq.where))
	if err := r.db.GetContext(ctx, &n, query, sq.args...); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", t.Table, err)
	}
	return n, nil
}

// exists: запись есть и не в корзине.
func (r *Repository) exists(ctx context.Context, t *AssetType, id string) error {
	var n int64
	query := r.db.Rebind(fmt.Sprintf("select count(*) from %s where %s = ? and %s = ?", r.q(t.Table), r.q("id"), r.q("is_deleted")))
	if err := r.db.GetContext(ctx, &n, query, id, false); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", t.SystemName, id, definition.ErrNotFound)
	}
	return nil
}
