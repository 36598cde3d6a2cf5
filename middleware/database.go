package middleware

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/yourusername/publicsite/db"
)

// Pinger abstracts the database health check so DBPing can be tested without Postgres
type Pinger interface {
	Ping(ctx context.Context) error
	Reconnect() error
}

type dbPinger struct{}

func (dbPinger) Ping(ctx context.Context) error { return db.Ping(ctx) }
func (dbPinger) Reconnect() error               { return db.Reconnect() }

// DBPing middleware checks the database connection before proceeding.
// If the connection is lost, it attempts to reconnect.
func DBPing() fiber.Handler {
	return DBPingWith(dbPinger{})
}

// DBPingWith is DBPing against a custom Pinger
func DBPingWith(p Pinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			log.Printf("Database ping failed or timed out: %v. Attempting to reconnect...", err)
			if reconErr := p.Reconnect(); reconErr != nil {
				log.Printf("Failed to reconnect to database: %v", reconErr)
				return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "Database connection is down",
				})
			}
			log.Println("Successfully reconnected to the database.")
		}
		return c.Next()
	}
}
