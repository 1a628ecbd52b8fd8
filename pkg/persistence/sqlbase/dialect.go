package sqlbase

import (
	"strconv"
	"strings"
)

// PlaceholderStyle is the bind parameter syntax of a driver.
type PlaceholderStyle int

const (
	// PlaceholderDollar uses PostgreSQL style numbered parameters ($1, $2, ...).
	PlaceholderDollar PlaceholderStyle = iota
	// PlaceholderQuestion uses positional ? parameters.
	PlaceholderQuestion
)

// Dialect captures the differences between the SQL backends sharing the repositories.
type Dialect struct {
	Name        string
	Placeholder PlaceholderStyle

	// IsUniqueViolation reports whether a driver error is a unique constraint violation.
	IsUniqueViolation func(err error) bool

	// IsForeignKeyViolation reports whether a driver error is a foreign key constraint violation.
	IsForeignKeyViolation func(err error) bool

	// MigrationLock is executed first in every migration transaction to serialize concurrent migrators.
	MigrationLock string
}

// Rebind rewrites a query written with $N parameters into the dialect's placeholder style.
// Queries must reference each parameter once and in increasing order.
func (d Dialect) Rebind(query string) string {
	if d.Placeholder == PlaceholderDollar {
		return query
	}

	var b strings.Builder

	b.Grow(len(query))

	for i := 0; i < len(query); i++ {
		c := query[i]
		if c != '$' {
			b.WriteByte(c)

			continue
		}

		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}

		if j == i+1 {
			b.WriteByte(c)

			continue
		}

		b.WriteByte('?')

		i = j - 1
	}

	return b.String()
}

// Placeholders returns n comma separated placeholders starting at $start.
func (d Dialect) Placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		if d.Placeholder == PlaceholderQuestion {
			parts[i] = "?"
		} else {
			parts[i] = "$" + strconv.Itoa(start+i)
		}
	}

	return strings.Join(parts, ", ")
}

// UniqueViolation is nil-safe sugar over IsUniqueViolation.
func (d Dialect) UniqueViolation(err error) bool {
	return err != nil && d.IsUniqueViolation != nil && d.IsUniqueViolation(err)
}

// ForeignKeyViolation is nil-safe sugar over IsForeignKeyViolation.
func (d Dialect) ForeignKeyViolation(err error) bool {
	return err != nil && d.IsForeignKeyViolation != nil && d.IsForeignKeyViolation(err)
}
