package vehicleregistry

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/safecity/platform/internal/shared/logging"
	"github.com/safecity/platform/internal/shared/metrics"
)

// Adapter connects to the national vehicle registry, a SQL Server
// system the platform has read-only access to. Vehicle lookups run on
// demand; theft reports are discovered by polling.
type Adapter struct {
	db     *sql.DB
	config Config
	log    *logging.Logger

	stolenChan chan StolenVehicleEvent

	running  bool
	mu       sync.RWMutex
	cancel   context.CancelFunc
	lastPoll time.Time
	wg       sync.WaitGroup
}

// New creates a new registry adapter
func New(cfg Config, log *logging.Logger) *Adapter {
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = DefaultConfig().EventBufferSize
	}
	if cfg.VehicleTable == "" {
		cfg.VehicleTable = DefaultConfig().VehicleTable
	}
	if cfg.TheftTable == "" {
		cfg.TheftTable = DefaultConfig().TheftTable
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}

	return &Adapter{
		config:     cfg,
		log:        log.WithComponent("vehicleregistry"),
		stolenChan: make(chan StolenVehicleEvent, cfg.EventBufferSize),
	}
}

// Start opens the database connection and starts polling
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("adapter already running")
	}

	db, err := sql.Open("sqlserver", a.config.DSN)
	if err != nil {
		return fmt.Errorf("failed to open registry database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping registry database: %w", err)
	}

	a.db = db
	a.running = true
	a.lastPoll = time.Now().Add(-a.config.PollInterval)

	pollCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go a.pollLoop(pollCtx)

	return nil
}

// Stop stops polling and closes the connection
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	close(a.stolenChan)

	if a.db != nil {
		a.db.Close()
	}

	a.running = false
	return nil
}

// Health checks registry connectivity
func (a *Adapter) Health(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.running {
		return fmt.Errorf("adapter not running")
	}

	return a.db.PingContext(ctx)
}

// SourceSystem returns the source system name
func (a *Adapter) SourceSystem() string {
	return "vehicleregistry"
}

// IsConnected returns connection status
func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running && a.db != nil
}

// FetchVehicle retrieves a vehicle record by plate number
func (a *Adapter) FetchVehicle(ctx context.Context, plateNumber string) (*VehicleRecord, error) {
	if !a.IsConnected() {
		return nil, fmt.Errorf("adapter not connected")
	}

	query := fmt.Sprintf(`
		SELECT
			VehicleID,
			PlateNumber,
			VIN,
			Make,
			Model,
			Color,
			ModelYear,
			OwnerName,
			OwnerNationalID,
			RegisteredAt,
			RegistrationCity,
			IsStolen,
			StolenReportedAt,
			LastModified
		FROM %s
		WHERE PlateNumber = @plate
	`, a.config.VehicleTable)

	row := a.db.QueryRowContext(ctx, query, sql.Named("plate", plateNumber))

	var record VehicleRecord
	var vin, color, ownerNationalID, city sql.NullString
	var year sql.NullInt32
	var stolen sql.NullBool
	var stolenAt sql.NullTime

	err := row.Scan(
		&record.LocalID,
		&record.PlateNumber,
		&vin,
		&record.Make,
		&record.Model,
		&color,
		&year,
		&record.OwnerName,
		&ownerNationalID,
		&record.RegisteredAt,
		&city,
		&stolen,
		&stolenAt,
		&record.LastUpdated,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("vehicle not found: %s", plateNumber)
		}
		return nil, fmt.Errorf("failed to fetch vehicle: %w", err)
	}

	if vin.Valid {
		record.VIN = vin.String
	}
	if color.Valid {
		record.Color = color.String
	}
	if year.Valid {
		record.Year = int(year.Int32)
	}
	if ownerNationalID.Valid {
		record.OwnerNationalID = ownerNationalID.String
	}
	if city.Valid {
		record.RegistrationCity = city.String
	}
	if stolen.Valid {
		record.Stolen = stolen.Bool
	}
	if stolenAt.Valid {
		record.StolenReportedAt = &stolenAt.Time
	}

	record.SourceSystem = a.SourceSystem()

	metrics.RecordRegistryEvent("vehicle_lookup")

	return &record, nil
}

// FetchOwnerVehicles retrieves all vehicles registered to an owner
func (a *Adapter) FetchOwnerVehicles(ctx context.Context, ownerNationalID string) ([]VehicleRecord, error) {
	if !a.IsConnected() {
		return nil, fmt.Errorf("adapter not connected")
	}

	query := fmt.Sprintf(`
		SELECT
			VehicleID,
			PlateNumber,
			VIN,
			Make,
			Model,
			Color,
			ModelYear,
			OwnerName,
			RegisteredAt,
			RegistrationCity,
			IsStolen,
			LastModified
		FROM %s
		WHERE OwnerNationalID = @owner
		ORDER BY RegisteredAt DESC
	`, a.config.VehicleTable)

	rows, err := a.db.QueryContext(ctx, query, sql.Named("owner", ownerNationalID))
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []VehicleRecord
	for rows.Next() {
		var record VehicleRecord
		var vin, color, city sql.NullString
		var year sql.NullInt32
		var stolen sql.NullBool

		err := rows.Scan(
			&record.LocalID,
			&record.PlateNumber,
			&vin,
			&record.Make,
			&record.Model,
			&color,
			&year,
			&record.OwnerName,
			&record.RegisteredAt,
			&city,
			&stolen,
			&record.LastUpdated,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}

		if vin.Valid {
			record.VIN = vin.String
		}
		if color.Valid {
			record.Color = color.String
		}
		if year.Valid {
			record.Year = int(year.Int32)
		}
		if city.Valid {
			record.RegistrationCity = city.String
		}
		if stolen.Valid {
			record.Stolen = stolen.Bool
		}

		record.OwnerNationalID = ownerNationalID
		record.SourceSystem = a.SourceSystem()

		vehicles = append(vehicles, record)
	}

	return vehicles, nil
}

// SubscribeStolenVehicles registers a handler for theft reports
func (a *Adapter) SubscribeStolenVehicles(ctx context.Context, handler StolenVehicleHandler) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-a.stolenChan:
				if !ok {
					return
				}
				handler(event)
			}
		}
	}()
	return nil
}

// pollLoop polls the registry for new theft reports
func (a *Adapter) pollLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			lastPoll := a.lastPoll
			a.lastPoll = time.Now()
			a.mu.Unlock()

			if err := a.pollTheftReports(ctx, lastPoll); err != nil {
				a.log.Warnw("failed to poll theft reports", "error", err)
			}
		}
	}
}

// pollTheftReports checks for theft reports filed since lastPoll
func (a *Adapter) pollTheftReports(ctx context.Context, since time.Time) error {
	query := fmt.Sprintf(`
		SELECT
			t.TheftReportID,
			v.PlateNumber,
			v.VIN,
			v.Make,
			v.Model,
			v.Color,
			t.City,
			t.ReportedAt
		FROM %s t
		INNER JOIN %s v ON t.VehicleID = v.VehicleID
		WHERE t.ReportedAt > @since
		ORDER BY t.ReportedAt ASC
	`, a.config.TheftTable, a.config.VehicleTable)

	rows, err := a.db.QueryContext(ctx, query, sql.Named("since", since))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var event StolenVehicleEvent
		var vin, color, city sql.NullString

		err := rows.Scan(
			&event.EventID,
			&event.PlateNumber,
			&vin,
			&event.Make,
			&event.Model,
			&color,
			&city,
			&event.Timestamp,
		)
		if err != nil {
			a.log.Warnw("failed to scan theft report", "error", err)
			continue
		}

		if vin.Valid {
			event.VIN = vin.String
		}
		if color.Valid {
			event.Color = color.String
		}
		if city.Valid {
			event.City = city.String
		}

		event.SourceSystem = a.SourceSystem()

		metrics.RecordRegistryEvent("stolen_vehicle")

		select {
		case a.stolenChan <- event:
		default:
			a.log.Warnw("stolen vehicle buffer full, dropping event", "plate", event.PlateNumber)
		}
	}

	return nil
}
