package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS incidents (
  id           TEXT PRIMARY KEY,
  occurred_on  TEXT NOT NULL,
  hour         INTEGER CHECK (hour IS NULL OR (hour >= 0 AND hour <= 23)),
  borough      TEXT,
  crime_type   TEXT,
  victim_race  TEXT,
  lat          REAL,
  lon          REAL,
  imported_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_incidents_date ON incidents(occurred_on);
CREATE INDEX IF NOT EXISTS idx_incidents_borough ON incidents(borough);
CREATE INDEX IF NOT EXISTS idx_incidents_type ON incidents(crime_type);
    `); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{sql: db}, nil
}

// migrate adds columns introduced after the first schema.
func migrate(db *sql.DB) error {
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM pragma_table_info('incidents') WHERE name = 'victim_race'").Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		if _, err := db.Exec("ALTER TABLE incidents ADD COLUMN victim_race TEXT"); err != nil {
			return fmt.Errorf("adding victim_race column: %w", err)
		}
	}
	return nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// InsertIncidents upserts incs in one transaction. Incidents without a date
// are rejected.
func (d *DB) InsertIncidents(ctx context.Context, incs []Incident) (res InsertResult, err error) {
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return res, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	lookup, err := tx.PrepareContext(ctx, "SELECT occurred_on, hour, borough, crime_type, victim_race, lat, lon FROM incidents WHERE id = ?")
	if err != nil {
		return res, err
	}
	defer lookup.Close()

	upsert, err := tx.PrepareContext(ctx, `INSERT INTO incidents(id, occurred_on, hour, borough, crime_type, victim_race, lat, lon) VALUES(?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET occurred_on = excluded.occurred_on, hour = excluded.hour, borough = excluded.borough,
  crime_type = excluded.crime_type, victim_race = excluded.victim_race, lat = excluded.lat, lon = excluded.lon, imported_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return res, err
	}
	defer upsert.Close()

	for _, inc := range incs {
		if inc.OccurredOn.IsZero() {
			err = fmt.Errorf("incident %q has no date", inc.ID)
			return res, err
		}
		id := identityKey(inc)

		var prev Incident
		var found bool
		prev, found, err = scanOne(lookup.QueryRowContext(ctx, id))
		if err != nil {
			return res, err
		}
		if found && sameIncident(prev, inc) {
			res.Unchanged++
			continue
		}

		var lat, lon interface{}
		if inc.HasLocation {
			lat, lon = inc.Lat, inc.Lon
		}
		if _, err = upsert.ExecContext(ctx, id, inc.Date(), nullIfNegative(inc.Hour), nullIfEmpty(inc.Borough), nullIfEmpty(inc.CrimeType), nullIfEmpty(inc.VictimRace), lat, lon); err != nil {
			return res, err
		}
		if found {
			res.Updated++
		} else {
			res.Added++
		}
	}

	if err = tx.Commit(); err != nil {
		return res, err
	}
	return res, nil
}

func scanOne(row *sql.Row) (Incident, bool, error) {
	var (
		inc      Incident
		date     string
		hour     sql.NullInt64
		boro     sql.NullString
		typ      sql.NullString
		race     sql.NullString
		lat, lon sql.NullFloat64
	)
	if err := row.Scan(&date, &hour, &boro, &typ, &race, &lat, &lon); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inc, false, nil
		}
		return inc, false, err
	}
	fillIncident(&inc, date, hour, boro, typ, race, lat, lon)
	return inc, true, nil
}

func fillIncident(inc *Incident, date string, hour sql.NullInt64, boro, typ, race sql.NullString, lat, lon sql.NullFloat64) {
	if t, err := time.Parse(dateLayout, date); err == nil {
		inc.OccurredOn = t
	}
	inc.Hour = -1
	if hour.Valid {
		inc.Hour = int(hour.Int64)
	}
	inc.Borough = boro.String
	inc.CrimeType = typ.String
	inc.VictimRace = race.String
	if lat.Valid && lon.Valid {
		inc.Lat, inc.Lon, inc.HasLocation = lat.Float64, lon.Float64, true
	}
}

func sameIncident(a, b Incident) bool {
	return a.Date() == b.Date() && a.Hour == b.Hour && a.Borough == b.Borough &&
		a.CrimeType == b.CrimeType && a.VictimRace == b.VictimRace && a.HasLocation == b.HasLocation &&
		(!a.HasLocation || (a.Lat == b.Lat && a.Lon == b.Lon))
}

// where renders the filter clause of q.
func (q Query) where() (string, []interface{}) {
	clauses := []string{"1=1"}
	args := []interface{}{}
	if q.Borough != "" {
		clauses = append(clauses, "borough = ?")
		args = append(args, q.Borough)
	}
	if q.Year > 0 {
		clauses = append(clauses, yearExpr+" = ?")
		args = append(args, q.Year)
	}
	if q.Month > 0 {
		clauses = append(clauses, monthExpr+" = ?")
		args = append(args, q.Month)
	}
	if q.CrimeType != "" {
		clauses = append(clauses, "crime_type = ?")
		args = append(args, q.CrimeType)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// countBy groups the incidents matching q by expr. Rows where expr is NULL
// are skipped.
func (d *DB) countBy(ctx context.Context, expr string, q Query, order string) ([]Count, error) {
	where, args := q.where()
	query := "SELECT CAST(" + expr + " AS TEXT) AS k, COUNT(*) AS n FROM incidents " + where +
		" AND " + expr + " IS NOT NULL GROUP BY k ORDER BY " + order
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	rows, err := d.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Count{}
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CountByBorough counts incidents per borough, largest first.
func (d *DB) CountByBorough(ctx context.Context, q Query) ([]Count, error) {
	return d.countBy(ctx, "borough", q, "n DESC, k")
}

// CountByMonth counts incidents per calendar month (1-12), in month order.
func (d *DB) CountByMonth(ctx context.Context, q Query) ([]Count, error) {
	return d.countBy(ctx, monthExpr, q, "MIN("+monthExpr+")")
}

// CountByCrimeType counts incidents per crime type, largest first.
func (d *DB) CountByCrimeType(ctx context.Context, q Query) ([]Count, error) {
	return d.countBy(ctx, "crime_type", q, "n DESC, k")
}

// CountByHour counts incidents per hour of day. Incidents without an hour
// are not counted.
func (d *DB) CountByHour(ctx context.Context, q Query) ([]Count, error) {
	return d.countBy(ctx, "hour", q, "MIN(hour)")
}

// CountByYearMonth counts incidents per YYYY-MM, oldest first.
func (d *DB) CountByYearMonth(ctx context.Context, q Query) ([]Count, error) {
	return d.countBy(ctx, yearMonthExpr, q, "k")
}

// CountByVictimRace counts incidents per recorded victim race, largest
// first. Incidents without one are not counted.
func (d *DB) CountByVictimRace(ctx context.Context, q Query) ([]Count, error) {
	return d.countBy(ctx, "victim_race", q, "n DESC, k")
}

// TopCrimeTypes returns the n most frequent crime types matching q.
func (d *DB) TopCrimeTypes(ctx context.Context, q Query, n int) ([]Count, error) {
	q.Limit = n
	return d.CountByCrimeType(ctx, q)
}

// ListIncidents returns geocoded incidents matching q, newest first.
func (d *DB) ListIncidents(ctx context.Context, q Query) ([]Incident, error) {
	where, args := q.where()
	query := "SELECT id, occurred_on, hour, borough, crime_type, victim_race, lat, lon FROM incidents " + where +
		" AND lat IS NOT NULL AND lon IS NOT NULL ORDER BY occurred_on DESC, id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	rows, err := d.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Incident{}
	for rows.Next() {
		var (
			inc      Incident
			date     string
			hour     sql.NullInt64
			boro     sql.NullString
			typ      sql.NullString
			race     sql.NullString
			lat, lon sql.NullFloat64
		)
		if err := rows.Scan(&inc.ID, &date, &hour, &boro, &typ, &race, &lat, &lon); err != nil {
			return nil, err
		}
		fillIncident(&inc, date, hour, boro, typ, race, lat, lon)
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type BoroughStats struct {
	Borough    string
	Incidents  int
	CrimeTypes int
	Geocoded   int
	First      string
	Last       string
}

func (d *DB) GetStats(ctx context.Context) ([]BoroughStats, error) {
	query := `
		SELECT
			COALESCE(borough, '(unknown)'),
			COUNT(*),
			COUNT(DISTINCT crime_type),
			COUNT(lat),
			MIN(occurred_on),
			MAX(occurred_on)
		FROM
			incidents
		GROUP BY
			1
		ORDER BY
			1;
	`
	rows, err := d.sql.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []BoroughStats
	for rows.Next() {
		var s BoroughStats
		if err := rows.Scan(&s.Borough, &s.Incidents, &s.CrimeTypes, &s.Geocoded, &s.First, &s.Last); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}
