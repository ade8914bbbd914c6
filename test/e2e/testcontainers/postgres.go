package testcontainers

import (
	"context"
	"errors"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresConfig holds configuration for PostgreSQL test container.
type PostgresConfig struct {
	// User is the PostgreSQL username (default: postgres)
	User string
	// Password is the PostgreSQL password (default: postgres)
	Password string
	// Database is the database name (default: health)
	Database string
	// ContainerName is the name of the container (optional)
	ContainerName string
}

// Postgres is where a started container can be reached.
type Postgres struct {
	Host     string
	User     string
	Password string
	Database string
	Port     int
}

// DSN returns the libpq connection string.
func (p Postgres) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		p.Host, p.Port, p.User, p.Password, p.Database)
}

func (c *PostgresConfig) withDefaults() PostgresConfig {
	out := PostgresConfig{User: "postgres", Password: "postgres", Database: "health"}
	if c == nil {
		return out
	}
	if c.User != "" {
		out.User = c.User
	}
	if c.Password != "" {
		out.Password = c.Password
	}
	if c.Database != "" {
		out.Database = c.Database
	}
	out.ContainerName = c.ContainerName
	return out
}

// StartPostgres starts a PostgreSQL container for testing.
func StartPostgres(ctx context.Context, config *PostgresConfig) (testcontainers.Container, Postgres, error) {
	cfg := config.withDefaults()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				// The entrypoint restarts the server once after init.
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			),
			Env: map[string]string{
				"POSTGRES_USER":     cfg.User,
				"POSTGRES_PASSWORD": cfg.Password,
				"POSTGRES_DB":       cfg.Database,
			},
			Name: cfg.ContainerName,
		},
		Started: true,
	})
	if err != nil {
		return nil, Postgres{}, fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, Postgres{}, terminate(ctx, container, fmt.Errorf("failed to get container host: %w", err))
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, Postgres{}, terminate(ctx, container, fmt.Errorf("failed to get container port: %w", err))
	}

	return container, Postgres{
		Host:     host,
		Port:     port.Int(),
		User:     cfg.User,
		Password: cfg.Password,
		Database: cfg.Database,
	}, nil
}

// terminate stops a half-started container and joins any cleanup error to err.
func terminate(ctx context.Context, container testcontainers.Container, err error) error {
	if termErr := container.Terminate(ctx); termErr != nil {
		return errors.Join(err, fmt.Errorf("cleanup error: %w", termErr))
	}
	return err
}
