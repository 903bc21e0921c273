// Command draftspace is a small interactive mail-draft composer backed
// by the draftspace service: edits made in the form flow through the
// in-memory cache and are debounced into the SQLite store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/draftspace/internal/model"
	"github.com/nhle/draftspace/internal/space"
	"github.com/nhle/draftspace/internal/store"
)

type formBindings struct {
	from     string
	to       string
	subject  string
	body     string
	priority string
}

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to the config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(*configPath, logger); err != nil {
		logger.Error("draftspace failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := space.NewService(db, space.Config{
		MinFlushDelay: cfg.MinFlushDelay(),
		MaxFlushDelay: cfg.MaxFlushDelay(),
	}, logger)
	svc.Start()
	defer svc.Stop()

	ctx := context.Background()
	owner := model.Owner{AccountID: "local", UserID: currentUser()}

	// Reap drafts that sat untouched past the idle window.
	if ids, err := svc.DeleteExpired(ctx, owner, cfg.MaxIdle()); err != nil {
		logger.Warn("expiring idle drafts", "error", err)
	} else if len(ids) > 0 {
		logger.Info("expired idle drafts", "count", len(ids))
	}

	v, err := svc.Open(ctx, owner, nil, "")
	if err != nil {
		return err
	}

	fb := &formBindings{priority: model.PriorityNormal}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("From").
				Placeholder("you@example.com").
				Value(&fb.from),
			huh.NewInput().
				Title("To").
				Placeholder("comma-separated addresses").
				Value(&fb.to),
			huh.NewInput().
				Title("Subject").
				Value(&fb.subject),
			huh.NewText().
				Title("Body").
				Value(&fb.body),
			huh.NewSelect[string]().
				Title("Priority").
				Options(
					huh.NewOption("High", model.PriorityHigh),
					huh.NewOption("Normal", model.PriorityNormal),
					huh.NewOption("Low", model.PriorityLow),
				).
				Value(&fb.priority),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			if _, cerr := svc.Close(ctx, v.ID, owner); cerr != nil {
				logger.Warn("discarding draft", "error", cerr)
			}
			logger.Info("draft discarded")
			return nil
		}
		return err
	}

	to := splitAddresses(fb.to)
	delta := &model.DraftDelta{
		From:     &fb.from,
		To:       &to,
		Subject:  &fb.subject,
		Content:  &fb.body,
		Priority: &fb.priority,
	}
	if _, err := svc.Update(v.ID, owner, delta, nil); err != nil {
		return err
	}

	// Persist immediately rather than waiting out the debounce window.
	if err := svc.FlushAll(ctx); err != nil {
		return err
	}

	fmt.Printf("draft saved: %s\n", v.ID)
	return nil
}

// splitAddresses parses a comma-separated address list, dropping blanks.
func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// currentUser resolves the local user id for draft ownership.
func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}
