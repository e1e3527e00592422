package sqldb

import (
	"context"
	"database/sql"
)

// GetRow runs sqlText against any TxHandle (a live transaction or a plain
// *Conn) and returns its first row, or nil if there are none. Store methods
// that accept a TxHandle use this so they read correctly whether called
// from inside a reduce-phase transaction or from a post-commit deriver.
func GetRow(ctx context.Context, tx TxHandle, sqlText string, binds ...any) (Row, error) {
	rows, err := tx.QueryContext(ctx, sqlText, binds...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return firstRow(rows)
}

// AllRows runs sqlText against any TxHandle and returns every row.
func AllRows(ctx context.Context, tx TxHandle, sqlText string, binds ...any) ([]Row, error) {
	rows, err := tx.QueryContext(ctx, sqlText, binds...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return allRows(rows)
}

func runResultOf(res sql.Result) RunResult {
	id, _ := res.LastInsertId()
	changes, _ := res.RowsAffected()
	return RunResult{LastInsertID: id, Changes: changes}
}

func scanRow(rows *sql.Rows) (Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(Row, len(cols))
	for i, col := range cols {
		row[col] = values[i]
	}
	return row, nil
}

func firstRow(rows *sql.Rows) (Row, error) {
	if !rows.Next() {
		return nil, rows.Err()
	}
	row, err := scanRow(rows)
	if err != nil {
		return nil, err
	}
	return row, rows.Err()
}

func allRows(rows *sql.Rows) ([]Row, error) {
	var out []Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func streamRows(rows *sql.Rows, onRow func(Row) error) (int, error) {
	count := 0
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return count, err
		}
		if err := onRow(row); err != nil {
			return count, err
		}
		count++
	}
	return count, rows.Err()
}
