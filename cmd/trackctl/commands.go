package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/graaaaa/activity-telemetry/internal/collector"
	"github.com/graaaaa/activity-telemetry/internal/event"
)

// maxLineBytes bounds a single command line.
const maxLineBytes = 1 << 20

// command is one line of input. Fields combine; a line may set the user
// and track an event at once.
type command struct {
	ActivityType string     `json:"activityType,omitempty"`
	ActivityData event.Data `json:"activityData,omitempty"`
	Immediate    bool       `json:"immediate,omitempty"`

	// UserID binds later events to a user; an empty string clears it.
	UserID *string `json:"userId,omitempty"`
	Online *bool   `json:"online,omitempty"`
	Flush  bool    `json:"flush,omitempty"`
}

var errEmptyCommand = errors.New("command has no fields")

// tracker is the part of collector.Tracker the commands drive.
type tracker interface {
	Track(typ event.Type, p event.Payload, opts ...collector.TrackOption) bool
	SetUserID(id string)
	ClearUserID()
	SetOnline(online bool)
	Flush(ctx context.Context) error
}

var _ tracker = (*collector.Tracker)(nil)

func parseCommand(line string) (command, error) {
	var c command
	dec := json.NewDecoder(strings.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return command{}, fmt.Errorf("decode command: %w", err)
	}
	if c.ActivityType == "" && c.UserID == nil && c.Online == nil && !c.Flush {
		return command{}, errEmptyCommand
	}
	return c, nil
}

func (c command) apply(ctx context.Context, t tracker) error {
	if c.UserID != nil {
		if *c.UserID == "" {
			t.ClearUserID()
		} else {
			t.SetUserID(*c.UserID)
		}
	}
	if c.Online != nil {
		t.SetOnline(*c.Online)
	}
	if c.ActivityType != "" {
		var opts []collector.TrackOption
		if c.Immediate {
			opts = append(opts, collector.Immediate())
		}
		if !t.Track(event.Type(c.ActivityType), c.ActivityData, opts...) {
			return fmt.Errorf("event %q not tracked", c.ActivityType)
		}
	}
	if c.Flush {
		return t.Flush(ctx)
	}
	return nil
}

// readCommands applies each line of r to t until EOF or ctx ends.
// Bad lines are logged and skipped.
func readCommands(ctx context.Context, r io.Reader, t tracker, logger *slog.Logger) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	lineNo := 0
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		c, err := parseCommand(line)
		if err != nil {
			logger.Warn("skipping line", "line", lineNo, "error", err)
			continue
		}
		if err := c.apply(ctx, t); err != nil {
			logger.Warn("command failed", "line", lineNo, "error", err)
		}
	}
	return sc.Err()
}
