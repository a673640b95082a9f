package main

import (
	"fmt"
	"html"
	"io"
	"strings"

	"campus/internal/models"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// plain strips markup from user content so it is safe to print to a terminal.
func plain(content string) string {
	text := html.UnescapeString(strict.Sanitize(content))
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(text)
}

func authorName(c *models.Comment) string {
	if c.Author != nil && c.Author.Username != "" {
		return c.Author.Username
	}
	return fmt.Sprintf("user %d", c.AuthorID)
}

func header(c *models.Comment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", shortID(c.ID), authorName(c))
	if c.LikesCount > 0 {
		fmt.Fprintf(&b, " · %d like", c.LikesCount)
		if c.LikesCount != 1 {
			b.WriteString("s")
		}
	}
	if c.IsLikedByCurrentUser {
		b.WriteString(" ♥")
	}
	if c.IsEdited && !c.IsDeleted {
		b.WriteString(" (edited)")
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// render writes the thread as an indented tree.
func render(w io.Writer, title string, comments []*models.Comment, hasMore bool) {
	fmt.Fprintf(w, "== %s ==\n", title)
	if len(comments) == 0 {
		fmt.Fprintln(w, "(no comments yet)")
	}
	for _, c := range comments {
		fmt.Fprintf(w, "%s\n    %s\n", header(c), plain(c.Content))
		if c.RepliesCount > 0 {
			fmt.Fprintf(w, "    %d repl", c.RepliesCount)
			if c.RepliesCount == 1 {
				fmt.Fprint(w, "y\n")
			} else {
				fmt.Fprint(w, "ies\n")
			}
		}
		for _, r := range c.Replies {
			fmt.Fprintf(w, "    ↳ %s: %s\n", header(r), plain(r.Content))
		}
	}
	if hasMore {
		fmt.Fprintln(w, "-- more comments: /more --")
	}
}
