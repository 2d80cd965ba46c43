package store

import (
	"time"

	"github.com/google/uuid"
)

// BaseModel provides common fields for all database models.
type BaseModel struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GenNewID generates a new UUID v7 (time-ordered).
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// StoreConfig configures the store layer.
type StoreConfig struct {
	// PostgresDSN is the Postgres connection string. Required in pg mode.
	PostgresDSN string

	// Mode: "file" (default) or "pg".
	Mode string

	// DataDir is the directory for file-based storage (file mode).
	DataDir string

	// DeviceDBPath is the sqlite database holding gateway device state
	// (file mode, default: <DataDir>/devices.db).
	DeviceDBPath string
}

// IsManaged returns true if the system runs against Postgres.
func (c StoreConfig) IsManaged() bool {
	return c.Mode == "pg" && c.PostgresDSN != ""
}
