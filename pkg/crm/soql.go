package crm

import (
	"strconv"
	"strings"
)

// CountQuery counts the rows of an object.
func CountQuery(object string) string {
	return "SELECT COUNT() FROM " + object
}

// ReportListQuery lists non-deleted reports, optionally filtered by a name substring.
func ReportListQuery(nameFilter string) string {
	var b strings.Builder
	b.WriteString("SELECT Id,Name,LastModifiedDate FROM Report WHERE IsDeleted=false")
	if nameFilter != "" {
		b.WriteString(" AND Name LIKE '%")
		b.WriteString(escapeLiteral(nameFilter))
		b.WriteString("%'")
	}
	return b.String()
}

// BulkQuery builds the query submitted to a bulk batch.
// Deleted rows are excluded when the object has an IsDeleted field; limit <= 0 means no limit.
func BulkQuery(object string, fields []string, limit int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(fields, ","))
	b.WriteString(" FROM ")
	b.WriteString(object)
	for _, f := range fields {
		if f == "IsDeleted" {
			b.WriteString(" WHERE IsDeleted = False")
			break
		}
	}
	if limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(limit))
	}
	return b.String()
}

// WindowQuery builds a LIMIT/OFFSET query for synchronous windowed reads.
// The window is applied only when limit > 0 and offset >= 0.
func WindowQuery(object string, fields []string, limit, offset int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(fields, ","))
	b.WriteString(" FROM ")
	b.WriteString(object)
	if limit > 0 && offset >= 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(limit))
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(offset))
	}
	return b.String()
}

// ByIDQuery selects a single row by its identifier.
func ByIDQuery(object string, fields []string, id string) string {
	return "SELECT " + strings.Join(fields, ",") + " FROM " + object + " WHERE Id='" + escapeLiteral(id) + "'"
}

// escapeLiteral escapes a value for use inside a single-quoted SOQL string.
func escapeLiteral(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return r.Replace(s)
}
