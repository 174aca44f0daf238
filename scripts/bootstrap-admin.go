// Command bootstrap-admin creates or resets the distinguished admin account
// directly against the document store. Useful for first deployments and for
// recovering a lost admin password without going through the email flow.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/portalhq/portal/internal/auth"
	"github.com/portalhq/portal/internal/model"
	"github.com/portalhq/portal/internal/store"
)

type output struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Created   bool   `json:"created"`
}

func main() {
	var (
		mongoURL = flag.String("mongo-url", os.Getenv("MONGO_URL"), "MongoDB connection string")
		adminDB  = flag.String("admin-db", envOr("ADMIN_DB", "portal_admin"), "Administrative database name")
		email    = flag.String("email", envOr("ADMIN_EMAIL", "admin@portal.local"), "Distinguished admin email")
		password = flag.String("password", os.Getenv("ADMIN_PASSWORD"), "Admin password to set")
		format   = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *mongoURL == "" {
		fmt.Fprintln(os.Stderr, "MONGO_URL is required")
		os.Exit(1)
	}
	if *password == "" {
		fmt.Fprintln(os.Stderr, "ADMIN_PASSWORD is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := store.New(ctx, *mongoURL, *adminDB)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect document store:", err)
		os.Exit(1)
	}
	defer db.Close(ctx)

	hash, err := auth.HashPassword(*password)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hash password:", err)
		os.Exit(1)
	}

	out, err := ensureAdmin(ctx, db, *email, hash)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	switch strings.ToLower(*format) {
	case "plain":
		if out.Created {
			fmt.Println("admin account created:", out.Email)
		} else {
			fmt.Println("admin password reset:", out.Email)
		}
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain or json")
		os.Exit(1)
	}
}

// ensureAdmin inserts the admin account, or replaces its password hash when
// the account already exists.
func ensureAdmin(ctx context.Context, db *store.Store, email, hash string) (*output, error) {
	existing, err := db.GetAccount(ctx, email, "")
	if err == nil {
		if _, err := db.UpdatePassword(ctx, email, hash); err != nil {
			return nil, fmt.Errorf("update admin password: %w", err)
		}
		return &output{AccountID: existing.ID, Email: email, Created: false}, nil
	}
	if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, fmt.Errorf("look up admin account: %w", err)
	}

	acct := &model.Account{
		ID:           ulid.Make().String(),
		Email:        email,
		App:          "",
		Role:         model.RoleAdmin,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.CreateAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("create admin account: %w", err)
	}
	return &output{AccountID: acct.ID, Email: email, Created: true}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
