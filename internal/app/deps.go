package app

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"

	"naimuDriver/internal/config"
	"naimuDriver/internal/timeutil"
)

// Logger provides minimal logging required by the driver client.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Deps groups external dependencies of the driver client.
type Deps struct {
	// DB stores offer history; nil disables it.
	DB       *sql.DB
	DBDriver string
	// RDB is required only for the redis queue backend.
	RDB        *redis.Client
	Logger     Logger
	Config     config.Config
	HTTPClient *http.Client
	Clock      timeutil.Clock
	module     *moduleState
}

// Validate ensures required dependencies are provided.
func (d *Deps) Validate() error {
	if d.Logger == nil {
		return errors.New("driver deps: Logger is required")
	}
	if d.Config.Driver.Token == "" {
		return errors.New("driver deps: driver token is required")
	}
	if d.Config.Queue.Backend == "redis" && d.RDB == nil {
		return errors.New("driver deps: RDB is required for the redis queue backend")
	}
	if d.DB != nil && d.DBDriver == "" {
		return errors.New("driver deps: DBDriver is required with DB")
	}
	if d.HTTPClient == nil {
		d.HTTPClient = http.DefaultClient
	}
	if d.Clock == nil {
		d.Clock = timeutil.Real{}
	}
	return nil
}
