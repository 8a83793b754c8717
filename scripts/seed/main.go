// Seeds a local database with an org, an active user, and an inbound phone
// number wired for on-call routing. Prints the ids so they can be fed to
// scripts/devtoken and provider webhook simulators.
//
// Usage: DATABASE_URL=... go run scripts/seed/main.go <org-name> <e164> <provider>
// Example: go run scripts/seed/main.go "Harbor Legal" +15005550001 twilio
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: go run main.go <org-name> <e164> <provider>")
		os.Exit(1)
	}
	orgName := os.Args[1]
	e164 := os.Args[2]
	provider := os.Args[3]

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		fmt.Println("Error: DATABASE_URL environment variable not set")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		fmt.Printf("Error connecting: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	orgID := uuid.New()
	userID := uuid.New()
	numberID := uuid.New()
	slug := strings.ToLower(strings.ReplaceAll(orgName, " ", "-"))

	tx, err := pool.Begin(ctx)
	if err != nil {
		fmt.Printf("Error starting tx: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO organizations (id, name, slug, timezone)
		VALUES ($1, $2, $3, 'America/New_York')`,
		orgID, orgName, slug)
	if err != nil {
		fmt.Printf("Error inserting organization: %v\n", err)
		os.Exit(1)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, org_id, name, email, active)
		VALUES ($1, $2, 'Dev Attorney', $3, TRUE)`,
		userID, orgID, slug+"-attorney@example.com")
	if err != nil {
		fmt.Printf("Error inserting user: %v\n", err)
		os.Exit(1)
	}

	_, err = tx.Exec(ctx, `
		UPDATE organizations SET oncall_user_id = $1 WHERE id = $2`,
		userID, orgID)
	if err != nil {
		fmt.Printf("Error setting on-call: %v\n", err)
		os.Exit(1)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO phone_numbers (id, org_id, e164, inbound_enabled, provider)
		VALUES ($1, $2, $3, TRUE, $4)`,
		numberID, orgID, e164, provider)
	if err != nil {
		fmt.Printf("Error inserting phone number: %v\n", err)
		os.Exit(1)
	}

	if err := tx.Commit(ctx); err != nil {
		fmt.Printf("Error committing: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("org_id:    %s\n", orgID)
	fmt.Printf("user_id:   %s\n", userID)
	fmt.Printf("number_id: %s\n", numberID)
	fmt.Printf("e164:      %s (%s)\n", e164, provider)
}
