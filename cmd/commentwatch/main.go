// Package main provides a terminal client that follows one comment thread live.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"campus/internal/commentsync"
	"campus/internal/models"
)

func main() {
	apiURL := flag.String("api", "http://localhost:8375", "API base URL")
	token := flag.String("token", os.Getenv("CAMPUS_TOKEN"), "Bearer token (see cmd/devtoken)")
	entity := flag.String("entity", string(models.EntityLesson), "Entity type: lesson, assignment, announcement, study_group, course")
	entityID := flag.Uint("id", 1, "Entity ID")
	sort := flag.String("sort", "newest", "Sort order: newest, oldest, likes")
	pageSize := flag.Int("limit", 20, "Top-level comments per page")
	flag.Parse()

	entityType, ok := models.ParseEntityType(*entity)
	if !ok {
		log.Fatalf("❌ Unknown entity type %q", *entity)
	}
	if *token == "" {
		log.Fatal("❌ -token or CAMPUS_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := commentsync.NewHTTPClient(*apiURL, *token, nil)
	key := commentsync.ThreadKey{EntityType: entityType, EntityID: *entityID}
	thread := commentsync.NewThread(api, key, commentsync.WithPageSize(*pageSize), commentsync.WithSort(*sort))
	if err := thread.Load(ctx); err != nil {
		log.Fatalf("❌ Loading %s failed: %v", key.Room(), err)
	}

	ticket, err := api.Ticket(ctx)
	if err != nil {
		log.Fatalf("❌ Ticket request failed: %v", err)
	}

	redraw := make(chan struct{}, 1)
	notify := func() {
		select {
		case redraw <- struct{}{}:
		default:
		}
	}

	sub, err := commentsync.Dial(ctx, commentsync.WebSocketURL(*apiURL, ticket), *token,
		commentsync.OnEvent(func(commentsync.Event) { notify() }))
	if err != nil {
		log.Fatalf("❌ Connect failed: %v", err)
	}
	defer func() { _ = sub.Close() }()

	if err := sub.Subscribe(ctx, thread); err != nil {
		log.Fatalf("❌ Subscribe failed: %v", err)
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	title := fmt.Sprintf("%s (%d comments)", key.Room(), thread.TotalCount())
	render(os.Stdout, title, thread.Snapshot(), thread.HasMore())
	fmt.Println(errUsage)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			log.Printf("🔌 %v", sub.Err())
			return
		case <-redraw:
		case line, ok := <-lines:
			if !ok {
				return
			}
			cmd, err := parseCommand(line)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if cmd.name == "quit" {
				return
			}
			if err := run(ctx, thread, cmd); err != nil {
				fmt.Printf("⚠️  %v\n", err)
				continue
			}
		}
		title = fmt.Sprintf("%s (%d comments)", key.Room(), thread.TotalCount())
		render(os.Stdout, title, thread.Snapshot(), thread.HasMore())
	}
}
