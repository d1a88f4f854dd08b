// Package graph projects canonical entities, their relationships and merge lineage into
// Neo4j (or Memgraph) over Bolt
package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jconfig "github.com/neo4j/neo4j-go-driver/v5/neo4j/config"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Config holds graph database configuration. An empty Username connects without auth.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// Database selects a named database; empty uses the server default
	Database string
	// MaxPoolSize caps open Bolt connections (default 16)
	MaxPoolSize int
}

func (c Config) uri() string {
	port := c.Port
	if port == 0 {
		port = 7687
	}
	return fmt.Sprintf("bolt://%s:%d", c.Host, port)
}

// Client owns the Bolt driver and opens one session per unit of work
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	logger   ectologger.Logger
}

func NewClient(cfg Config, logger ectologger.Logger) (*Client, error) {
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(cfg.uri(), auth, func(c *neo4jconfig.Config) {
		c.MaxConnectionPoolSize = 16
		if cfg.MaxPoolSize > 0 {
			c.MaxConnectionPoolSize = cfg.MaxPoolSize
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver: %w", err)
	}

	return &Client{driver: driver, database: cfg.Database, logger: logger}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// Ping checks the server is reachable; it doubles as the readiness probe
func (c *Client) Ping(ctx context.Context) error {
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("graph unreachable: %w", err)
	}
	return nil
}

// ExecuteRead runs work in a read transaction, retried by the driver on transient errors
func (c *Client) ExecuteRead(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Client.ExecuteRead")
	defer span.End()

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead, DatabaseName: c.database})
	defer session.Close(ctx)
	return session.ExecuteRead(ctx, work)
}

// RunWrite runs the statements in order inside one write transaction
func (c *Client) RunWrite(ctx context.Context, stmts ...Statement) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Client.RunWrite")
	defer span.End()

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: c.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, stmt := range stmts {
			result, err := tx.Run(ctx, stmt.Cypher, stmt.Params)
			if err != nil {
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("statements", len(stmts)).Warn("Graph write failed")
	}
	return err
}
