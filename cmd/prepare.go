package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flash-buyer/internal/browser/sessionfile"
	"flash-buyer/internal/purchase"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newPrepareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prepare",
		Short: "Start a signed-in browser that later buy runs reattach to",
		Long: `prepare launches a browser listening on the configured debugger address,
signs in and parks it on the storefront home page. It keeps the browser open
until Enter is pressed or the process is interrupted.`,
		Args: cobra.NoArgs,
		RunE: runPrepare,
	}
}

func runPrepare(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.closeLog()

	port, err := debugPort(a.cfg.DebuggerAddress)
	if err != nil {
		return err
	}
	if err := a.promptCredentials(); err != nil {
		return err
	}
	// prepare always launches, whatever reuse_existing_browser says.
	if err := a.cfg.RequireCredentials(); err != nil {
		color.Red("❌ %v", err)
		return err
	}
	connector, err := a.connector(port)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := connector.Launch(ctx)
	if err != nil {
		return err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sessionfile.Remove(rctx, a.cfg.SessionDir); err != nil {
			a.log.Warn("could not remove session file", zap.Error(err))
		}
		if err := sess.Release(rctx); err != nil {
			a.log.Warn("could not close browser", zap.Error(err))
		}
	}()

	auth := &purchase.FormLogin{Email: a.cfg.Credentials.Email, Password: a.cfg.Credentials.Password}
	if err := purchase.PrepareSession(ctx, sess, a.cfg.Store.BaseURL, auth, a.log); err != nil {
		return err
	}

	// The browser lives as long as this process.
	handoff := sessionfile.Handoff{
		DebuggerAddress: a.cfg.DebuggerAddress,
		PID:             os.Getpid(),
		CreatedAt:       time.Now().UTC(),
	}
	if err := sessionfile.Write(ctx, a.cfg.SessionDir, handoff); err != nil {
		return err
	}

	color.Green("✅ Browser ready on %s", a.cfg.DebuggerAddress)
	fmt.Printf("   Session file: %s\n", sessionfile.Path(a.cfg.SessionDir))
	fmt.Println("   Run `flashbuy buy --reuse <product>` from another terminal.")
	fmt.Println("   Press Enter to close the browser.")

	enter := make(chan struct{})
	go func() {
		bufio.NewReader(os.Stdin).ReadString('\n')
		close(enter)
	}()
	select {
	case <-enter:
	case <-ctx.Done():
		fmt.Println()
	}
	return nil
}
