package query

import (
	"context"
	"database/sql"
	"errors"
)

// Executor runs SQL; *sql.DB, *sql.Tx and *sql.Conn satisfy it
type Executor interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ErrNoExecutor is returned when a terminal operation runs on an unbound query
var ErrNoExecutor = errors.New("query has no executor")

// Get executes the SELECT and returns every row
func (q *Query) Get(ctx context.Context) ([]Row, error) {
	if q.exec == nil {
		return nil, ErrNoExecutor
	}
	stmt, args, err := q.ToSQL()
	if err != nil {
		return nil, err
	}

	rows, err := q.exec.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return ScanRows(rows)
}

// First executes the SELECT with LIMIT 1; a missing row yields nil, nil
func (q *Query) First(ctx context.Context) (Row, error) {
	rows, err := q.Clone().Limit(1).Get(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Count returns the number of rows the SELECT would yield
func (q *Query) Count(ctx context.Context) (int64, error) {
	if q.exec == nil {
		return 0, ErrNoExecutor
	}
	stmt, args, err := q.CountSQL()
	if err != nil {
		return 0, err
	}

	rows, err := q.exec.QueryContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var total int64
	if rows.Next() {
		if err := rows.Scan(&total); err != nil {
			return 0, err
		}
	}
	return total, rows.Err()
}

// Insert writes row into the query's table
func (q *Query) Insert(ctx context.Context, row Row) error {
	if q.exec == nil {
		return ErrNoExecutor
	}
	stmt, args, err := q.InsertSQL(row)
	if err != nil {
		return err
	}
	_, err = q.exec.ExecContext(ctx, stmt, args...)
	return err
}

// Update writes row to every matching record and returns the affected count
func (q *Query) Update(ctx context.Context, row Row) (int64, error) {
	if q.exec == nil {
		return 0, ErrNoExecutor
	}
	stmt, args, err := q.UpdateSQL(row)
	if err != nil {
		return 0, err
	}
	result, err := q.exec.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Delete removes every matching record and returns the affected count
func (q *Query) Delete(ctx context.Context) (int64, error) {
	if q.exec == nil {
		return 0, ErrNoExecutor
	}
	stmt, args, err := q.DeleteSQL()
	if err != nil {
		return 0, err
	}
	result, err := q.exec.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ScanRows scans every row into a Row, converting []byte to string
func ScanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := make([]Row, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		record := make(Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
				continue
			}
			record[col] = values[i]
		}
		results = append(results, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}
