package materialize

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jmoiron/sqlx"

	"assetforge/internal/capacity"
	"assetforge/internal/definition"
	"assetforge/internal/fieldtype"
)

// HistoryEntry: одно изменение поля записи.
type HistoryEntry struct {
	ID       string    `json:"id"`
	Field    string    `json:"field"`
	OldValue any       `json:"old_value"`
	NewValue any       `json:"new_value"`
	Actor    string    `json:"actor,omitempty"`
	Date     time.Time `json:"date"`
}

// Document: файл, прикреплённый к записи.
type Document struct {
	ID           string    `json:"id"`
	ItemsID      string    `json:"items_id"`
	Filename     string    `json:"filename"`
	Mime         string    `json:"mime,omitempty"`
	Size         int64     `json:"size"`
	SHA256       string    `json:"sha256"`
	DateCreation time.Time `json:"date_creation"`
	BlobKey      string    `json:"-"`
}

func mapRows(rows *sqlx.Rows) ([]map[string]any, error) {
	defer rows.Close()
	var out []map[string]any
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func nullableString(v any) any {
	if v == nil {
		return nil
	}
	return fieldtype.AsString(v)
}

// History: журнал изменений записи, старые сначала.
func (r *Repository) History(ctx context.Context, t *AssetType, id string) ([]HistoryEntry, error) {
	if err := t.require(capacity.History); err != nil {
		return nil, err
	}
	table := capacity.HistoryTable(t.Table)
	query := r.db.Rebind(fmt.Sprintf("select %s, %s, %s, %s, %s, %s from %s where %s = ? order by %s, %s",
		r.q("id"), r.q("field"), r.q("old_value"), r.q("new_value"), r.q("actor"), r.q("date_creation"),
		r.q(table), r.q("items_id"), r.q("date_creation"), r.q("id")))
	rows, err := r.db.QueryxContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	raw, err := mapRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	out := make([]HistoryEntry, 0, len(raw))
	for _, row := range raw {
		h := HistoryEntry{
			ID:       fieldtype.AsString(row["id"]),
			Field:    fieldtype.AsString(row["field"]),
			OldValue: nullableString(row["old_value"]),
			NewValue: nullableString(row["new_value"]),
			Actor:    fieldtype.AsString(row["actor"]),
		}
		h.Date, _ = fieldtype.AsTime(row["date_creation"])
		out = append(out, h)
	}
	return out, nil
}

func (r *Repository) documentsQuery(t *AssetType, where string) string {
	return r.db.Rebind(fmt.Sprintf("select %s, %s, %s, %s, %s, %s, %s, %s from %s where %s order by %s",
		r.q("id"), r.q("items_id"), r.q("filename"), r.q("blob_key"), r.q("mime"), r.q("size"), r.q("sha256"), r.q("date_creation"),
		r.q(capacity.DocumentsTable(t.Table)), where, r.q("id")))
}

func toDocuments(raw []map[string]any) []Document {
	out := make([]Document, 0, len(raw))
	for _, row := range raw {
		d := Document{
			ID:       fieldtype.AsString(row["id"]),
			ItemsID:  fieldtype.AsString(row["items_id"]),
			Filename: fieldtype.AsString(row["filename"]),
			BlobKey:  fieldtype.AsString(row["blob_key"]),
			Mime:     fieldtype.AsString(row["mime"]),
			SHA256:   fieldtype.AsString(row["sha256"]),
		}
		_, _ = fmt.Sscan(fieldtype.AsString(row["size"]), &d.Size)
		d.DateCreation, _ = fieldtype.AsTime(row["date_creation"])
		out = append(out, d)
	}
	return out
}

// Documents: документы записи.
func (r *Repository) Documents(ctx context.Context, t *AssetType, id string) ([]Document, error) {
	if err := t.require(capacity.Documents); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryxContext(ctx, r.documentsQuery(t, r.q("items_id")+" = ?"), id)
	if err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	raw, err := mapRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	return toDocuments(raw), nil
}

// AttachDocument сохраняет файл в хранилище и привязывает его к записи.
// Если строку записать не удалось, файл удаляется.
func (r *Repository) AttachDocument(ctx context.Context, t *AssetType, id, filename, mime string, body io.Reader) (Document, error) {
	if err := t.require(capacity.Documents); err != nil {
		return Document{}, err
	}
	if err := r.exists(ctx, t, id); err != nil {
		return Document{}, err
	}
	obj, err := r.blobs.Put("", body)
	if err != nil {
		return Document{}, fmt.Errorf("failed to store document: %w", err)
	}
	d := Document{
		ID:           r.newID(),
		ItemsID:      id,
		Filename:     filename,
		Mime:         mime,
		Size:         obj.Size,
		SHA256:       obj.SHA256,
		DateCreation: r.now().UTC(),
		BlobKey:      obj.Key,
	}
	query := r.db.Rebind(fmt.Sprintf("insert into %s (%s, %s, %s, %s, %s, %s, %s, %s) values (?, ?, ?, ?, ?, ?, ?, ?)",
		r.q(capacity.DocumentsTable(t.Table)),
		r.q("id"), r.q("items_id"), r.q("filename"), r.q("blob_key"), r.q("mime"), r.q("size"), r.q("sha256"), r.q("date_creation")))
	if _, err := r.db.ExecContext(ctx, query, d.ID, d.ItemsID, d.Filename, d.BlobKey, d.Mime, d.Size, d.SHA256, d.DateCreation); err != nil {
		_ = r.blobs.Delete(obj.Key)
		return Document{}, fmt.Errorf("failed to attach document: %w", err)
	}
	return d, nil
}

// OpenDocument: метаданные и содержимое одного документа записи.
func (r *Repository) OpenDocument(ctx context.Context, t *AssetType, id, docID string) (Document, io.ReadCloser, error) {
	if err := t.require(capacity.Documents); err != nil {
		return Document{}, nil, err
	}
	rows, err := r.db.QueryxContext(ctx, r.documentsQuery(t, r.q("items_id")+" = ? and "+r.q("id")+" = ?"), id, docID)
	if err != nil {
		return Document{}, nil, fmt.Errorf("failed to read documents: %w", err)
	}
	raw, err := mapRows(rows)
	if err != nil {
		return Document{}, nil, fmt.Errorf("failed to read documents: %w", err)
	}
	docs := toDocuments(raw)
	if len(docs) == 0 {
		return Document{}, nil, fmt.Errorf("document %s: %w", docID, definition.ErrNotFound)
	}
	body, err := r.blobs.Open(docs[0].BlobKey)
	if err != nil {
		return Document{}, nil, fmt.Errorf("failed to open document %s: %w", docID, err)
	}
	return docs[0], body, nil
}
