package store

// All SQL queries are collected here so they are easy to audit and test.
const (
	recordColumns = `id, device_id, time, data_length, data_volume, raw_data, created_at, updated_at`

	// queryInsertRecord returns no row when the id is already taken.
	queryInsertRecord = `
INSERT INTO signals (id, device_id, time, data_length, data_volume, raw_data, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6::json, $7, $7)
ON CONFLICT (id) DO NOTHING
RETURNING ` + recordColumns

	querySelectByID = `SELECT ` + recordColumns + ` FROM signals WHERE id = $1`

	querySelectAll = `SELECT ` + recordColumns + ` FROM signals`

	// queryUpdateRecord overwrites every mutable column in one statement.
	// id and created_at are never touched; a missing id affects no rows.
	queryUpdateRecord = `
UPDATE signals
SET device_id   = $2,
    time        = $3,
    data_length = $4,
    data_volume = $5,
    raw_data    = $6::json,
    updated_at  = $7
WHERE id = $1
RETURNING ` + recordColumns

	queryDeleteByID = `DELETE FROM signals WHERE id = $1`

	queryInsertDeadLetter = `
INSERT INTO dead_letter_messages (queue, device_id, body, error, attempts)
VALUES ($1, NULLIF($2, ''), $3, $4, $5)`
)
