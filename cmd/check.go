package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Attach to the prepared browser, open the store in a new tab and detach",
		Args:  cobra.NoArgs,
		RunE:  runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.closeLog()

	connector, err := a.connector(0)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	sess, err := connector.Attach(ctx)
	if err != nil {
		color.Red("❌ Could not attach: %v", err)
		return err
	}
	defer func() {
		if err := sess.Release(context.WithoutCancel(ctx)); err != nil {
			a.log.Warn("detach failed", zap.Error(err))
		}
	}()

	// The attached session runs in a tab of its own, so it starts blank.
	if err := sess.Navigate(ctx, a.cfg.Store.BaseURL); err != nil {
		return err
	}
	url, err := sess.CurrentLocation(ctx)
	if err != nil {
		return err
	}
	title, err := sess.ExecuteScript(ctx, `() => document.title`)
	if err != nil {
		return err
	}
	fmt.Printf("   Current URL:   %s\n", url)
	fmt.Printf("   Current title: %v\n", title)

	color.Green("✅ Browser is reusable; prepared tab left open")
	return nil
}
