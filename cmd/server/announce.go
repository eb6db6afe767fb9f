package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/citizenwallet/aa-gateway/pkg/router"
)

type announcer interface {
	Notify(ctx context.Context, message string) error
	NotifyWarning(ctx context.Context, err error) error
}

var (
	errBundlerNotConfigured   = errors.New("bundler is not fully configured, submissions will be rejected")
	errPaymasterNotConfigured = errors.New("paymaster is not fully configured, sponsorship will be rejected")
)

// announceStart posts the start message and a warning for every upstream
// that is missing settings. Delivery failures are returned, not fatal.
func announceStart(ctx context.Context, n announcer, port int, bundler, paymaster router.StatusChecker) []error {
	var errs []error

	if err := n.Notify(ctx, fmt.Sprintf("started on port %d", port)); err != nil {
		errs = append(errs, err)
	}

	if !bundler.Configured() {
		if err := n.NotifyWarning(ctx, errBundlerNotConfigured); err != nil {
			errs = append(errs, err)
		}
	}

	if !paymaster.Configured() {
		if err := n.NotifyWarning(ctx, errPaymasterNotConfigured); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}
