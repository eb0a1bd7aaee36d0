/*
 * Copyright 2023 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sql

import (
	"context"
	dbsql "database/sql"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/el"
)

const (
	SELECT = "SELECT"
	INSERT = "INSERT"
	DELETE = "DELETE"
	UPDATE = "UPDATE"
	CALL   = "CALL"
)

const (
	RowsAffectedProperty = "sql.rowsAffected"
	LastInsertIdProperty = "sql.lastInsertId"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*dbsql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (dbsql.Result, error)
}

// Statement is a parsed statement. Parameters are written #[expression] and are
// evaluated against the event, e.g.
//
//	UPDATE orders SET status = #[msg.status] WHERE id = #[vars.orderId]
type Statement struct {
	Source string
	// SQL the statement with driver placeholders
	SQL    string
	Kind   string
	params []*el.Expression
}

// ParseStatement parses source for driver: postgres uses $n placeholders, other drivers ?.
func ParseStatement(source, driver string, udf map[string]interface{}) (*Statement, error) {
	s := &Statement{Source: source}
	var sb strings.Builder
	rest := source
	for {
		start := strings.Index(rest, "#[")
		if start < 0 {
			sb.WriteString(rest)
			break
		}
		end := closing(rest[start+2:])
		if end < 0 {
			return nil, types.NewIllegalArgumentError("unterminated parameter in statement: " + source)
		}
		end += start + 2
		expr, err := el.Compile(rest[start+2:end], udf)
		if err != nil {
			return nil, err
		}
		s.params = append(s.params, expr)
		sb.WriteString(rest[:start])
		if driver == "postgres" {
			sb.WriteString("$" + strconv.Itoa(len(s.params)))
		} else {
			sb.WriteString("?")
		}
		rest = rest[end+1:]
	}
	s.SQL = strings.TrimSpace(sb.String())
	if fields := strings.Fields(s.SQL); len(fields) > 0 {
		s.Kind = strings.ToUpper(fields[0])
	}
	switch s.Kind {
	case SELECT, INSERT, DELETE, UPDATE, CALL:
	default:
		return nil, types.NewIllegalArgumentError("unsupported sql statement: " + source)
	}
	return s, nil
}

// closing index of the ] closing an opened #[, -1 if none.
func closing(s string) int {
	depth := 0
	for i, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}

// Args evaluates the parameters against event.
func (s *Statement) Args(event *types.Event) ([]interface{}, error) {
	args := make([]interface{}, 0, len(s.params))
	for _, p := range s.params {
		v, err := p.Eval(event)
		if err != nil {
			return nil, errors.Wrapf(err, "statement parameter %s", p.Source)
		}
		args = append(args, v)
	}
	return args, nil
}

// Execute runs the statement. Selects return the rows as payload, other statements
// the affected row count with the RowsAffectedProperty and LastInsertIdProperty
// outbound properties.
func (s *Statement) Execute(ctx context.Context, q Querier, event *types.Event) (*types.Message, error) {
	args, err := s.Args(event)
	if err != nil {
		return nil, err
	}
	if s.Kind == SELECT {
		rows, err := Query(ctx, q, s.SQL, args...)
		if err != nil {
			return nil, err
		}
		return types.NewMessageWithType(rows, types.JSON), nil
	}
	result, err := q.ExecContext(ctx, s.SQL, args...)
	if err != nil {
		return nil, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	b := types.NewMessage(rowsAffected).Builder().OutboundProperty(RowsAffectedProperty, rowsAffected)
	if s.Kind == INSERT {
		if id, err := result.LastInsertId(); err == nil {
			b.OutboundProperty(LastInsertIdProperty, id)
		}
	}
	return b.Build(), nil
}

// Query returns every row as a column name to value map, []byte values become strings.
func Query(ctx context.Context, q Querier, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]interface{}, len(columns))
	pointers := make([]interface{}, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}
	result := make([]map[string]interface{}, 0)
	for rows.Next() {
		if err = rows.Scan(pointers...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, column := range columns {
			if b, ok := values[i].([]byte); ok {
				row[column] = string(b)
			} else {
				row[column] = values[i]
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
