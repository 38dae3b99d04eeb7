// Package testutils provides the same reachable-Postgres session pool
// helper the teacher's asceticddd/utils/testutils package does, adapted to
// this module's session/pgx package and env-var defaults.
package testutils

import (
	"context"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/krew-solutions/protoflow/internal/session"
	pgsession "github.com/krew-solutions/protoflow/internal/session/pgx"
)

// NewPgSessionPool connects to the Postgres instance named by
// DB_HOST/DB_PORT/DB_USERNAME/DB_PASSWORD/DB_DATABASE, defaulting to the
// same local-dev values the teacher's helper does.
func NewPgSessionPool() (session.Pool, error) {
	dbUsername := getEnv("DB_USERNAME", "devel")
	dbPassword := getEnv("DB_PASSWORD", "devel")
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_DATABASE", "devel_grade")

	connString := "postgres://" + dbUsername + ":" + dbPassword + "@" + dbHost + ":" + dbPort + "/" + dbName

	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		return nil, err
	}

	return pgsession.NewSessionPool(pool), nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
