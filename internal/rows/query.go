package rows

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/tablebrowser/internal/dberr"
	"github.com/JonMunkholm/tablebrowser/internal/schema"
)

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// orderBy returns the ORDER BY clause giving a stable row order: the primary
// key, or the physical row id for tables without one.
func orderBy(meta *schema.TableMeta) string {
	if !meta.HasPrimaryKey() {
		return "ctid"
	}
	cols := make([]string, len(meta.PrimaryKey))
	for i, pk := range meta.PrimaryKey {
		cols[i] = quote(pk)
	}
	return strings.Join(cols, ", ")
}

func buildCount(meta *schema.TableMeta) string {
	return "SELECT count(*) FROM " + meta.Ref().Sanitize()
}

func buildPage(meta *schema.TableMeta) string {
	return fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT $1 OFFSET $2", meta.Ref().Sanitize(), orderBy(meta))
}

// buildInsert builds an INSERT ... RETURNING * for already coerced values.
// Columns are emitted in table order so equal input yields equal SQL.
func buildInsert(meta *schema.TableMeta, values map[string]any) (string, []any, error) {
	for _, c := range meta.Columns {
		if _, ok := values[c.Name]; !ok && c.Required() {
			return "", nil, dberr.Validationf("missing required column %q", c.Name)
		}
	}
	if len(values) == 0 {
		return "INSERT INTO " + meta.Ref().Sanitize() + " DEFAULT VALUES RETURNING *", nil, nil
	}

	cols := make([]string, 0, len(values))
	params := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	for _, c := range meta.Columns {
		v, ok := values[c.Name]
		if !ok {
			continue
		}
		args = append(args, v)
		cols = append(cols, quote(c.Name))
		params = append(params, fmt.Sprintf("$%d", len(args)))
	}
	if len(args) != len(values) {
		return "", nil, unknownColumn(meta, values)
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		meta.Ref().Sanitize(), strings.Join(cols, ", "), strings.Join(params, ", "))
	return sql, args, nil
}

// buildUpdate builds an UPDATE ... RETURNING * addressed by key.
// Primary key columns in values are dropped when they repeat the key and
// rejected otherwise.
func buildUpdate(meta *schema.TableMeta, key, values map[string]any) (string, []any, error) {
	if err := checkKey(meta, key); err != nil {
		return "", nil, err
	}

	set := make([]string, 0, len(values))
	args := make([]any, 0, len(values)+len(key))
	for _, c := range meta.Columns {
		v, ok := values[c.Name]
		if !ok {
			continue
		}
		if meta.IsPrimaryKey(c.Name) {
			if !sameValue(v, key[c.Name]) {
				return "", nil, dberr.Validationf("primary key column %q cannot be changed", c.Name)
			}
			continue
		}
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", quote(c.Name), len(args)))
	}
	if len(set) == 0 {
		if err := unknownColumn(meta, values); err != nil {
			return "", nil, err
		}
		return "", nil, dberr.Validationf("no values to update")
	}

	where, args := whereKey(meta, key, args)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING *",
		meta.Ref().Sanitize(), strings.Join(set, ", "), where)
	return sql, args, nil
}

func buildDelete(meta *schema.TableMeta, key map[string]any) (string, []any, error) {
	if err := checkKey(meta, key); err != nil {
		return "", nil, err
	}
	where, args := whereKey(meta, key, nil)
	return fmt.Sprintf("DELETE FROM %s WHERE %s", meta.Ref().Sanitize(), where), args, nil
}

// checkKey requires key to name exactly the primary key columns.
func checkKey(meta *schema.TableMeta, key map[string]any) error {
	if !meta.HasPrimaryKey() {
		return dberr.Validationf("table %s has no primary key; rows cannot be addressed", meta.Ref().FullName())
	}
	if len(key) == 0 {
		return dberr.Validationf("key must be a non-empty object")
	}
	for _, pk := range meta.PrimaryKey {
		v, ok := key[pk]
		if !ok {
			return dberr.Validationf("key is missing primary key column %q", pk)
		}
		if v == nil {
			return dberr.Validationf("key column %q cannot be null", pk)
		}
	}
	for name := range key {
		if !meta.IsPrimaryKey(name) {
			return dberr.Validationf("key column %q is not part of the primary key (%s)", name, strings.Join(meta.PrimaryKey, ", "))
		}
	}
	return nil
}

func whereKey(meta *schema.TableMeta, key map[string]any, args []any) (string, []any) {
	parts := make([]string, len(meta.PrimaryKey))
	for i, pk := range meta.PrimaryKey {
		args = append(args, key[pk])
		parts[i] = fmt.Sprintf("%s = $%d", quote(pk), len(args))
	}
	return strings.Join(parts, " AND "), args
}

func unknownColumn(meta *schema.TableMeta, values map[string]any) error {
	for name := range values {
		if _, ok := meta.Column(name); !ok {
			return dberr.Validationf("unknown column %q in %s", name, meta.Ref().FullName())
		}
	}
	return nil
}

func sameValue(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
