package capacity

import (
	"context"
	"fmt"
	"sort"

	"assetforge/internal/schema"
)

// Registry: неизменяемый после построения набор ёмкостей.
type Registry struct {
	byName map[string]Descriptor
	names  []string
}

func NewRegistry(descs ...Descriptor) *Registry {
	r := &Registry{byName: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		if _, dup := r.byName[d.Name]; dup {
			panic(fmt.Sprintf("capacity %s registered twice", d.Name))
		}
		r.byName[d.Name] = d
		r.names = append(r.names, d.Name)
	}
	sort.Strings(r.names)
	return r
}

var defaultRegistry = NewRegistry(builtin()...)

// Default возвращает общий для процесса реестр встроенных ёмкостей.
func Default() *Registry { return defaultRegistry }

// ListAvailable: все ёмкости, по имени.
func (r *Registry) ListAvailable() []Descriptor {
	out := make([]Descriptor, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.byName[n])
	}
	return out
}

func (r *Registry) Get(name string) (Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, &UnknownCapacityError{Name: name}
	}
	return d, nil
}

// Validate проверяет набор целиком: неизвестные имена, зависимости, конфликты.
// Неизвестная ёмкость: всегда ошибка: молча выкинуть её значит рассинхронизировать схему.
func (r *Registry) Validate(set []string) error {
	enabled := make(map[string]struct{}, len(set))
	for _, n := range set {
		if _, err := r.Get(n); err != nil {
			return err
		}
		enabled[n] = struct{}{}
	}
	for _, n := range Normalize(set) {
		if err := r.byName[n].Compatible(enabled); err != nil {
			return err
		}
	}
	return nil
}

// Normalize убирает дубли и сортирует.
func Normalize(set []string) []string {
	seen := make(map[string]struct{}, len(set))
	out := make([]string, 0, len(set))
	for _, n := range set {
		if _, ok := seen[n]; ok || n == "" {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func builtin() []Descriptor {
	return []Descriptor{
		{
			Name:    Contracts,
			Label:   "Contracts",
			Columns: []schema.Column{{Name: "contracts_id", Kind: schema.KindRef}},
		},
		{
			Name:  Documents,
			Label: "Documents",
			Relations: func(table string) []schema.Table {
				return []schema.Table{{
					Name: DocumentsTable(table),
					Columns: []schema.Column{
						{Name: "id", Kind: schema.KindID, Primary: true},
						{Name: "items_id", Kind: schema.KindRef, NotNull: true},
						{Name: "filename", Kind: schema.KindString},
						{Name: "blob_key", Kind: schema.KindString},
						{Name: "mime", Kind: schema.KindString},
						{Name: "size", Kind: schema.KindInt},
						{Name: "sha256", Kind: schema.KindString},
						{Name: "date_creation", Kind: schema.KindDateTime},
					},
				}}
			},
		},
		{
			Name:  History,
			Label: "Historical",
			Relations: func(table string) []schema.Table {
				return []schema.Table{{
					Name: HistoryTable(table),
					Columns: []schema.Column{
						{Name: "id", Kind: schema.KindID, Primary: true},
						{Name: "items_id", Kind: schema.KindRef, NotNull: true},
						{Name: "field", Kind: schema.KindString},
						{Name: "old_value", Kind: schema.KindText},
						{Name: "new_value", Kind: schema.KindText},
						{Name: "actor", Kind: schema.KindString},
						{Name: "date_creation", Kind: schema.KindDateTime},
					},
				}}
			},
			AfterUpdate: writeHistory,
		},
		{
			Name:  Infocom,
			Label: "Financial and administrative information",
			Columns: []schema.Column{
				{Name: "buy_date", Kind: schema.KindDate},
				{Name: "warranty_duration", Kind: schema.KindInt},
				{Name: "value", Kind: schema.KindDecimal},
			},
		},
		{
			Name:    Notepad,
			Label:   "Notes",
			Columns: []schema.Column{{Name: "notepad", Kind: schema.KindText}},
		},
		{
			Name:    Reservable,
			Label:   "Reservations",
			Columns: []schema.Column{{Name: "is_reservable", Kind: schema.KindBool}},
		},
		{
			Name:  NetworkPorts,
			Label: "Network ports",
			Relations: func(table string) []schema.Table {
				return []schema.Table{{
					Name: NetworkPortsTable(table),
					Columns: []schema.Column{
						{Name: "id", Kind: schema.KindID, Primary: true},
						{Name: "items_id", Kind: schema.KindRef, NotNull: true},
						{Name: "name", Kind: schema.KindString},
						{Name: "mac", Kind: schema.KindString},
						{Name: "date_creation", Kind: schema.KindDateTime},
					},
				}}
			},
		},
		{
			Name:  Inventoriable,
			Label: "Inventory",
			Columns: []schema.Column{
				{Name: "is_dynamic", Kind: schema.KindBool},
				{Name: "last_inventory_update", Kind: schema.KindDateTime},
			},
			ReadOnly: []string{"is_dynamic", "last_inventory_update"},
			Requires: []string{NetworkPorts},
		},
	}
}

func writeHistory(ctx context.Context, hc HookContext, changes []FieldChange) error {
	if len(changes) == 0 {
		return nil
	}
	q := hc.Dialect.Quote
	stmt := hc.Exec.Rebind(fmt.Sprintf(
		"insert into %s (%s, %s, %s, %s, %s, %s, %s) values (?, ?, ?, ?, ?, ?, ?)",
		q(HistoryTable(hc.Table)), q("id"), q("items_id"), q("field"),
		q("old_value"), q("new_value"), q("actor"), q("date_creation"),
	))
	for _, ch := range changes {
		if _, err := hc.Exec.ExecContext(ctx, stmt,
			hc.NewID(), hc.ItemID, ch.Field, historyValue(ch.Old), historyValue(ch.New), hc.Actor, hc.Now,
		); err != nil {
			return fmt.Errorf("history %s.%s: %w", hc.Table, ch.Field, err)
		}
	}
	return nil
}

func historyValue(v any) any {
	if v == nil {
		return nil
	}
	return fmt.Sprint(v)
}
