// Package rights: кто действует и что ему можно.
package rights

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Права профиля на определение (битовая маска).
const (
	Read = 1 << iota
	Update
	Create
	Delete
	Purge

	All = Read | Update | Create | Delete | Purge
)

var ErrForbidden = errors.New("forbidden")

var names = []struct {
	bit  int
	name string
}{
	{Read, "read"}, {Update, "update"}, {Create, "create"}, {Delete, "delete"}, {Purge, "purge"},
}

// Name: имя права ("read", "update|create" для составных).
func Name(right int) string {
	var parts []string
	for _, n := range names {
		if right&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Actor: пользователь запроса.
type Actor struct {
	ID         string   `json:"id"`
	Profile    string   `json:"profile"`
	SuperAdmin bool     `json:"super_admin"`
	Denied     []string `json:"denied,omitempty"` // itemtype, которые профилю читать нельзя
}

// System: внутренний актор (импорт, seed).
var System = Actor{ID: "system", SuperAdmin: true}

// Allowed: есть ли у актора все биты right в маске профилей определения.
func (a Actor) Allowed(profiles map[string]int, right int) bool {
	if a.SuperAdmin {
		return true
	}
	mask, ok := profiles[a.Profile]
	return ok && mask&right == right
}

// Check: то же, что Allowed, но ошибкой.
func (a Actor) Check(profiles map[string]int, right int, subject string) error {
	if a.Allowed(profiles, right) {
		return nil
	}
	return fmt.Errorf("%s on %s: %w", Name(right), subject, ErrForbidden)
}

// CheckConfig: управление определениями доступно только супер-админу.
func (a Actor) CheckConfig() error {
	if a.SuperAdmin {
		return nil
	}
	return fmt.Errorf("definition management requires super-admin: %w", ErrForbidden)
}

// CanRead: может ли актор читать объекты itemtype (нужно для dropdown-полей).
func (a Actor) CanRead(itemtype string) bool {
	if a.SuperAdmin {
		return true
	}
	for _, d := range a.Denied {
		if strings.EqualFold(d, itemtype) {
			return false
		}
	}
	return true
}

type ctxKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext возвращает актора запроса; без него: анонимный актор без прав.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok
}
