// Package history implements the SQLite history writer (spec §6.4,
// SPEC_FULL §10.5): periodically inserts a sensor_readings row from the
// shared telemetry snapshot, skipping the insert while the session is
// idle/tearing down (original's data_io/db.rs:27 `if row.state.is_inactive()`).
// Grounded on the original's data_io/db.rs writer and built with
// github.com/mattn/go-sqlite3 + github.com/jmoiron/sqlx, the pack's SQLite
// driver/binding pair.
package history

import (
	"context"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/rand12345/beaglebone-v2h/errcode"
	"github.com/rand12345/beaglebone-v2h/telemetry"
)

const writePeriod = 10 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS sensor_readings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	dc_kw REAL NOT NULL,
	soc INTEGER NOT NULL,
	volts REAL NOT NULL,
	temp REAL NOT NULL,
	amps REAL NOT NULL,
	requested_amps REAL NOT NULL,
	fan INTEGER NOT NULL,
	meter_kw REAL NOT NULL
);`

const insertSQL = `
INSERT INTO sensor_readings
	(timestamp, dc_kw, soc, volts, temp, amps, requested_amps, fan, meter_kw)
VALUES
	(:timestamp, :dc_kw, :soc, :volts, :temp, :amps, :requested_amps, :fan, :meter_kw)`

// row is the sensor_readings table shape (spec §6.4), bound by name via
// sqlx's named-parameter support.
type row struct {
	Timestamp     int64   `db:"timestamp"`
	DCKW          float64 `db:"dc_kw"`
	SoC           int     `db:"soc"`
	Volts         float64 `db:"volts"`
	Temp          float64 `db:"temp"`
	Amps          float64 `db:"amps"`
	RequestedAmps float64 `db:"requested_amps"`
	Fan           int     `db:"fan"`
	MeterKW       float64 `db:"meter_kw"`
}

// Writer owns the SQLite connection and inserts one row per period.
type Writer struct {
	db  *sqlx.DB
	tel *telemetry.Store
	log *zap.SugaredLogger
}

// Open opens (creating if needed) the SQLite database at path and ensures
// the sensor_readings table exists.
func Open(path string, tel *telemetry.Store, log *zap.SugaredLogger) (*Writer, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, &errcode.E{C: errcode.DbWrite, Op: "open", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, &errcode.E{C: errcode.DbWrite, Op: "schema", Err: err}
	}
	return &Writer{db: db, tel: tel, log: log}, nil
}

// Run inserts a row every writePeriod until ctx is done (spec §5: "History
// writer | 10 s | DB insert").
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(writePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return w.db.Close()
		case <-ticker.C:
			w.writeOnce()
		}
	}
}

// inactive reports whether a session state means "no charge activity to
// record" (spec §6.4: idle/teardown), mirroring the original's
// row.state.is_inactive() gate.
func inactive(sessionState string) bool {
	return sessionState == "" || sessionState == "Idle" || sessionState == "Teardown"
}

func (w *Writer) writeOnce() {
	snap := w.tel.Read()
	if inactive(snap.SessionState) {
		return
	}
	r := row{
		Timestamp:     time.Now().Unix(),
		DCKW:          snap.VoltsV * snap.AmpsA / 1000,
		SoC:           snap.SoC,
		Volts:         snap.VoltsV,
		Temp:          snap.TempC,
		Amps:          snap.AmpsA,
		RequestedAmps: snap.RequestedA,
		Fan:           snap.FanDutyPct,
		MeterKW:       snap.MeterKW,
	}
	if _, err := w.db.NamedExec(insertSQL, r); err != nil {
		w.log.Warnw("history insert failed", "err", err)
	}
}
