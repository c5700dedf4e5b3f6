package schema

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// identifierRe matches plain, unquoted Postgres identifiers.
var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// sqlTypeRe matches a type name of plain words with an optional precision and
// array suffix: "text", "timestamp with time zone", "numeric(14,2)", "text[]".
var sqlTypeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*( [a-zA-Z][a-zA-Z0-9_]*)*( ?\( *\d+ *(, *\d+ *)?\))?(\[\])*$`)

// IsValidIdentifier reports whether name can be used unquoted as a table or column name.
func IsValidIdentifier(name string) bool {
	return identifierRe.MatchString(name)
}

// ValidateColumn checks that a column renders into a single runnable column
// clause. Type and Default are emitted verbatim, so the type must be a plain
// type name and the default a self-contained expression.
func ValidateColumn(col Column) error {
	if !IsValidIdentifier(col.Name) {
		return fmt.Errorf("%w: column %q", ErrInvalidIdentifier, col.Name)
	}
	if strings.TrimSpace(col.Type) == "" {
		return fmt.Errorf("%w: column %s has no type", ErrInvalidColumn, col.Name)
	}
	if !sqlTypeRe.MatchString(col.Type) {
		return fmt.Errorf("%w: column %s type %q", ErrInvalidColumn, col.Name, col.Type)
	}
	if col.Default != "" && !isSelfContainedExpr(col.Default) {
		return fmt.Errorf("%w: column %s default %q", ErrInvalidColumn, col.Name, col.Default)
	}
	if col.References != "" {
		ref, err := ParseReference(col.References)
		if err != nil {
			return fmt.Errorf("%w: column %s: %w", ErrInvalidColumn, col.Name, err)
		}
		if !IsValidIdentifier(ref.Table) || !IsValidIdentifier(ref.Column) {
			return fmt.Errorf("%w: column %s references %q", ErrInvalidColumn, col.Name, col.References)
		}
	}
	return nil
}

// validateColumns validates every column and rejects names declared twice.
func validateColumns(cols Columns) error {
	seen := make(map[string]bool, len(cols))
	for _, col := range cols {
		if err := ValidateColumn(col); err != nil {
			return err
		}
		if seen[col.Name] {
			return fmt.Errorf("%w: column %s declared twice", ErrInvalidColumn, col.Name)
		}
		seen[col.Name] = true
	}
	return nil
}

// isSelfContainedExpr rejects statement separators, comments and dollar
// quoting, and requires balanced quotes and parentheses.
func isSelfContainedExpr(expr string) bool {
	if strings.ContainsAny(expr, ";$") || strings.Contains(expr, "--") || strings.Contains(expr, "/*") {
		return false
	}

	depth := 0
	quoted := false
	for _, r := range expr {
		switch {
		case r == '\'':
			quoted = !quoted
		case quoted:
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return !quoted && depth == 0
}

// Schema is a registry of table definitions and RLS policies.
// The zero value is not usable; construct with [New].
type Schema struct {
	mu       sync.RWMutex
	order    []string
	tables   map[string]TableSchema
	policies []Policy
}

// New returns an empty schema.
func New() *Schema {
	return &Schema{tables: make(map[string]TableSchema)}
}

// Register adds a table definition. The table keeps its position in
// registration order for every rendered artifact.
func (s *Schema) Register(t TableSchema) error {
	if !IsValidIdentifier(t.Name) {
		return fmt.Errorf("%w: table %q", ErrInvalidIdentifier, t.Name)
	}
	if err := validateColumns(t.Columns); err != nil {
		return fmt.Errorf("table %s: %w", t.Name, err)
	}
	for _, col := range t.Indexes {
		if !t.Columns.Has(col) {
			return fmt.Errorf("%w: index on unknown column %s.%s", ErrInvalidColumn, t.Name, col)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tables[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrTableExists, t.Name)
	}
	s.tables[t.Name] = t.clone()
	s.order = append(s.order, t.Name)
	return nil
}

// AddPolicy declares a row-level-security policy.
func (s *Schema) AddPolicy(p Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies = append(s.policies, p)
}

// Table returns a copy of the named table definition.
func (s *Schema) Table(name string) (TableSchema, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[name]
	if !ok {
		return TableSchema{}, false
	}
	return t.clone(), true
}

// Tables returns copies of all tables in registration order.
func (s *Schema) Tables() []TableSchema {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TableSchema, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tables[name].clone())
	}
	return out
}

// Policies returns the declared policies in declaration order.
func (s *Schema) Policies() []Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Policy(nil), s.policies...)
}

// TableCount returns the number of registered tables.
func (s *Schema) TableCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Clone returns an independent copy of the schema.
func (s *Schema) Clone() *Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := New()
	for _, name := range s.order {
		out.tables[name] = s.tables[name].clone()
		out.order = append(out.order, name)
	}
	out.policies = append(out.policies, s.policies...)
	return out
}
