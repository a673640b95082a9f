package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"campus/internal/commentsync"
	"campus/internal/models"
)

type command struct {
	name string
	id   string
	text string
}

var errUsage = errors.New("commands: <text> | /reply <id> <text> | /edit <id> <text> | /like <id> | /delete <id> | /more | /quit")

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errUsage
	}
	if !strings.HasPrefix(line, "/") {
		return command{name: "post", text: line}, nil
	}

	fields := strings.SplitN(line, " ", 3)
	cmd := command{name: strings.TrimPrefix(fields[0], "/")}
	switch cmd.name {
	case "more", "quit":
		return cmd, nil
	case "like", "delete":
		if len(fields) < 2 || fields[1] == "" {
			return command{}, errUsage
		}
		cmd.id = fields[1]
		return cmd, nil
	case "reply", "edit":
		if len(fields) < 3 || strings.TrimSpace(fields[2]) == "" {
			return command{}, errUsage
		}
		cmd.id, cmd.text = fields[1], strings.TrimSpace(fields[2])
		return cmd, nil
	}
	return command{}, errUsage
}

// resolveID expands a displayed id prefix to the full comment id.
func resolveID(comments []*models.Comment, prefix string) (string, error) {
	var match string
	check := func(c *models.Comment) error {
		if !strings.HasPrefix(c.ID, prefix) {
			return nil
		}
		if match != "" && match != c.ID {
			return fmt.Errorf("id %q is ambiguous", prefix)
		}
		match = c.ID
		return nil
	}
	for _, c := range comments {
		if err := check(c); err != nil {
			return "", err
		}
		for _, r := range c.Replies {
			if err := check(r); err != nil {
				return "", err
			}
		}
	}
	if match == "" {
		return "", fmt.Errorf("no comment matches %q", prefix)
	}
	return match, nil
}

func run(ctx context.Context, thread *commentsync.Thread, cmd command) error {
	var id string
	if cmd.id != "" {
		full, err := resolveID(thread.Snapshot(), cmd.id)
		if err != nil {
			return err
		}
		id = full
	}

	switch cmd.name {
	case "post":
		_, err := thread.Create(ctx, cmd.text, nil)
		return err
	case "reply":
		_, err := thread.Create(ctx, cmd.text, &id)
		return err
	case "edit":
		_, err := thread.Update(ctx, id, cmd.text)
		return err
	case "like":
		_, err := thread.ToggleLike(ctx, id)
		return err
	case "delete":
		return thread.Delete(ctx, id)
	case "more":
		return thread.LoadMore(ctx)
	}
	return errUsage
}
