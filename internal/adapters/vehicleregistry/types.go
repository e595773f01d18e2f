package vehicleregistry

import "time"

// VehicleRecord is a vehicle as known to the national registry
type VehicleRecord struct {
	LocalID          string     `json:"local_id"`
	PlateNumber      string     `json:"plate_number"`
	VIN              string     `json:"vin"`
	Make             string     `json:"make"`
	Model            string     `json:"model"`
	Color            string     `json:"color"`
	Year             int        `json:"year"`
	OwnerName        string     `json:"owner_name"`
	OwnerNationalID  string     `json:"owner_national_id"`
	RegisteredAt     time.Time  `json:"registered_at"`
	RegistrationCity string     `json:"registration_city"`
	Stolen           bool       `json:"stolen"`
	StolenReportedAt *time.Time `json:"stolen_reported_at,omitempty"`
	LastUpdated      time.Time  `json:"last_updated"`
	SourceSystem     string     `json:"source_system"`
}

// StolenVehicleEvent is emitted when the registry flags a vehicle stolen
type StolenVehicleEvent struct {
	EventID      string    `json:"event_id"`
	PlateNumber  string    `json:"plate_number"`
	VIN          string    `json:"vin"`
	Make         string    `json:"make"`
	Model        string    `json:"model"`
	Color        string    `json:"color"`
	City         string    `json:"city"`
	Timestamp    time.Time `json:"timestamp"`
	SourceSystem string    `json:"source_system"`
}

// StolenVehicleHandler handles stolen vehicle events
type StolenVehicleHandler func(StolenVehicleEvent)

// Config holds vehicle registry adapter configuration
type Config struct {
	DSN             string        `json:"dsn"`
	PollInterval    time.Duration `json:"poll_interval"`
	EventBufferSize int           `json:"event_buffer_size"`
	VehicleTable    string        `json:"vehicle_table"`
	TheftTable      string        `json:"theft_table"`
}

// DefaultConfig returns default registry configuration
func DefaultConfig() Config {
	return Config{
		PollInterval:    30 * time.Second,
		EventBufferSize: 256,
		VehicleTable:    "dbo.Vehicles",
		TheftTable:      "dbo.TheftReports",
	}
}
