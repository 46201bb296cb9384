// Command ampelctl is a small operational CLI for ampelhub, run alongside
// the long-running cmd/ampelhub service against the same database and
// configuration: seed an admin user, rotate the credential-encryption key,
// or force an out-of-band poll of one repository.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider"
	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/retry"
	sqliteadapter "github.com/pacphi/ampel-sub003/internal/adapter/driven/sqlite"
	"github.com/pacphi/ampel-sub003/internal/application/scheduler"
	"github.com/pacphi/ampel-sub003/internal/config"
	"github.com/pacphi/ampel-sub003/internal/domain/model"
	"github.com/pacphi/ampel-sub003/internal/domain/port/driven"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}

	var err error
	switch args[0] {
	case "seed-admin":
		err = seedAdmin(args[1:])
	case "rotate-key":
		err = rotateKey(args[1:])
	case "poll":
		err = pollNow(args[1:])
	default:
		usage()
		return 2
	}

	if err != nil {
		slog.Error("ampelctl failed", "command", args[0], "error", err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ampelctl <seed-admin|rotate-key|poll> [flags]")
}

// seedAdmin creates an administrative user directly against the UserStore,
// bypassing auth.Service.Register (which always assigns model.RoleUser).
func seedAdmin(args []string) error {
	fs := flag.NewFlagSet("seed-admin", flag.ExitOnError)
	email := fs.String("email", "", "admin email address (required)")
	password := fs.String("password", "", "admin password (required)")
	displayName := fs.String("display-name", "Admin", "admin display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("-email and -password are required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	users := sqliteadapter.NewUserRepo(db)
	created, err := users.Create(context.Background(), model.User{
		Email:        *email,
		PasswordHash: string(hash),
		DisplayName:  *displayName,
		Role:         model.RoleAdmin,
	})
	if err != nil {
		if errors.Is(err, driven.ErrUserConflict) {
			return fmt.Errorf("user %s already exists", *email)
		}
		return err
	}

	slog.Info("admin user seeded", "id", created.ID, "email", created.Email)
	return nil
}

// rotateKey re-encrypts every stored credential under a freshly generated
// key (or one supplied via -new-key) and prints it so the operator can set
// AMPELHUB_ENCRYPTION_KEY before the next ampelhub restart.
func rotateKey(args []string) error {
	fs := flag.NewFlagSet("rotate-key", flag.ExitOnError)
	newKeyHex := fs.String("new-key", "", "new 64-character hex encryption key (generated if omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.EncryptionKey == nil {
		return errors.New("AMPELHUB_ENCRYPTION_KEY must be set to the current key before rotating")
	}

	var newKey []byte
	if *newKeyHex == "" {
		newKey = make([]byte, 32)
		if _, err := rand.Read(newKey); err != nil {
			return fmt.Errorf("generate new key: %w", err)
		}
	} else {
		if len(*newKeyHex) != 64 {
			return errors.New("-new-key must be a 64-character hex string (32 bytes)")
		}
		newKey, err = hex.DecodeString(*newKeyHex)
		if err != nil {
			return fmt.Errorf("-new-key must be valid hex: %w", err)
		}
	}

	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	creds := sqliteadapter.NewCredentialRepo(db, cfg.EncryptionKey)
	if err := creds.RotateEncryptionKey(context.Background(), newKey); err != nil {
		return err
	}

	slog.Info("encryption key rotated; redeploy ampelhub with AMPELHUB_ENCRYPTION_KEY set to the new key",
		"new_key_hex", hex.EncodeToString(newKey))
	return nil
}

// pollNow forces an immediate, out-of-band poll of one tracked repository,
// reusing scheduler.Scheduler.RefreshRepository rather than duplicating its
// poll logic.
func pollNow(args []string) error {
	fs := flag.NewFlagSet("poll", flag.ExitOnError)
	userID := fs.Int64("user", 0, "owning user id (required)")
	repoID := fs.Int64("repo", 0, "repository id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == 0 || *repoID == 0 {
		return errors.New("-user and -repo are required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	repoStore := sqliteadapter.NewRepoRepo(db)
	prStore := sqliteadapter.NewPRRepo(db)
	checkStore := sqliteadapter.NewCheckRepo(db)
	reviewStore := sqliteadapter.NewReviewRepo(db)
	accountStore := sqliteadapter.NewProviderAccountRepo(db)
	credentialStore := sqliteadapter.NewCredentialRepo(db, cfg.EncryptionKey)

	retryPolicy := retry.NewPolicy(cfg.RetryMaxAttempts, cfg.RetryBaseDelay)
	factory := provider.NewFactory(cfg.RateLimitSafetyMargin, retryPolicy, cfg.RequestTimeout, cfg.ProviderBaseURLs)

	sched := scheduler.New(repoStore, prStore, checkStore, reviewStore, accountStore, credentialStore, factory, scheduler.Config{
		TickInterval:          time.Hour, // irrelevant: this process never reaches a tick
		WorkerPoolSize:        1,
		PerAccountConcurrency: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout+10*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Start(ctx)
	}()

	err = sched.RefreshRepository(ctx, *userID, *repoID)
	cancel()
	<-done

	if err != nil {
		return fmt.Errorf("poll repository %d: %w", *repoID, err)
	}

	slog.Info("poll complete", "user", *userID, "repo", *repoID)
	return nil
}
