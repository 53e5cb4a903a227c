// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package device

import (
	"context"

	"github.com/rs/zerolog"
)

// Notifier surfaces session activity to whoever operates the scanner.
// Both calls are made while a command is in flight and must return promptly;
// ConfirmScan receives a context bounded by the confirm timeout.
type Notifier interface {
	Display(message string)
	ConfirmScan(ctx context.Context) bool
}

// NopNotifier ignores messages and confirms every scan.
type NopNotifier struct{}

func (NopNotifier) Display(string) {}

func (NopNotifier) ConfirmScan(context.Context) bool { return true }

// LogNotifier writes messages to a logger and confirms every scan.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Display(message string) {
	n.Logger.Info().Str("display", message).Msg("notify")
}

func (n LogNotifier) ConfirmScan(context.Context) bool {
	n.Logger.Info().Msg("scan confirmed automatically")
	return true
}

// ConfirmFunc adapts a function into the ConfirmScan half of a Notifier.
type ConfirmFunc struct {
	Notifier
	Confirm func(ctx context.Context) bool
}

func (c ConfirmFunc) ConfirmScan(ctx context.Context) bool { return c.Confirm(ctx) }
