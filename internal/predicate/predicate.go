// Package predicate vets the free-text SQL conditions stored in the remote
// query catalog before they are embedded in the extraction statement.
//
// A predicate is accepted only when
//
//	SELECT id FROM jobseeker WHERE (<predicate>)
//
// parses with the Postgres grammar as exactly one plain SELECT whose WHERE
// clause contains no sub-query and no call to a server-side function that can
// read files, sleep, or touch settings or other databases.
package predicate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ErrRejected is wrapped by every vetting failure.
var ErrRejected = errors.New("predicate rejected")

// SourceTable is the table the predicate filters.
const SourceTable = "jobseeker"

var deniedFunctions = map[string]bool{
	"dblink":          true,
	"dblink_exec":     true,
	"set_config":      true,
	"current_setting": true,
	"query_to_xml":    true,
	"copy":            true,
}

var deniedPrefixes = []string{"pg_", "lo_", "dblink"}

// Wrap returns the SELECT the predicate is vetted as and later executed inside.
func Wrap(p string) string {
	return "SELECT id FROM " + SourceTable + " WHERE (" + p + ")"
}

// Vet checks p and returns it trimmed.
func Vet(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("%w: empty predicate", ErrRejected)
	}
	sql := Wrap(p)

	tree, err := pg_query.Parse(sql)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if len(tree.GetStmts()) != 1 {
		return "", fmt.Errorf("%w: expected a single statement, got %d", ErrRejected, len(tree.GetStmts()))
	}
	sel := tree.GetStmts()[0].GetStmt().GetSelectStmt()
	if sel == nil {
		return "", fmt.Errorf("%w: not a select condition", ErrRejected)
	}
	switch {
	case sel.GetLarg() != nil || sel.GetRarg() != nil:
		return "", fmt.Errorf("%w: set operations are not allowed", ErrRejected)
	case sel.GetWhereClause() == nil:
		return "", fmt.Errorf("%w: missing condition", ErrRejected)
	case len(sel.GetFromClause()) != 1:
		return "", fmt.Errorf("%w: additional relations are not allowed", ErrRejected)
	case sel.GetWithClause() != nil, len(sel.GetLockingClause()) > 0, sel.GetIntoClause() != nil:
		return "", fmt.Errorf("%w: unexpected clause", ErrRejected)
	}

	raw, err := pg_query.ParseToJSON(sql)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if err := walk(doc); err != nil {
		return "", err
	}
	return p, nil
}

// walk inspects every node of the JSON parse tree.
func walk(n any) error {
	switch v := n.(type) {
	case map[string]any:
		for k, child := range v {
			switch k {
			case "SubLink":
				return fmt.Errorf("%w: sub-queries are not allowed", ErrRejected)
			case "FuncCall":
				if err := checkFunc(child); err != nil {
					return err
				}
			}
			if err := walk(child); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range v {
			if err := walk(child); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkFunc(n any) error {
	fc, ok := n.(map[string]any)
	if !ok {
		return nil
	}
	parts, _ := fc["funcname"].([]any)
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		m, _ := p.(map[string]any)
		s, _ := m["String"].(map[string]any)
		if name, ok := s["sval"].(string); ok {
			names = append(names, strings.ToLower(name))
		}
	}
	if len(names) == 0 {
		return nil
	}
	name := names[len(names)-1]
	if len(names) > 1 && names[0] != "pg_catalog" {
		return fmt.Errorf("%w: schema-qualified function %s", ErrRejected, strings.Join(names, "."))
	}
	if deniedFunctions[name] {
		return fmt.Errorf("%w: function %s is not allowed", ErrRejected, name)
	}
	for _, prefix := range deniedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return fmt.Errorf("%w: function %s is not allowed", ErrRejected, name)
		}
	}
	return nil
}
