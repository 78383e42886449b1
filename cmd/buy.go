package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"flash-buyer/internal/artifacts"
	"flash-buyer/internal/purchase"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	mode       string
	countdown  int
	jsonReport bool
)

func newBuyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buy [product]",
		Short: "Run one purchase attempt",
		Example: `  flashbuy buy "iPhone 15 case"
  flashbuy buy --mode safe --countdown 3 "usb c cable"
  flashbuy buy --reuse "wireless mouse"`,
		RunE: runBuy,
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "fast (stop at cart) or safe (stop at checkout); default from config")
	cmd.Flags().IntVar(&countdown, "countdown", 0, "Seconds to count down before starting")
	cmd.Flags().BoolVar(&jsonReport, "json", false, "Print the full run report as JSON")
	return cmd
}

func runBuy(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.closeLog()

	product := strings.TrimSpace(strings.Join(args, " "))
	if product == "" {
		if product, err = prompt("Product to buy: "); err != nil {
			return err
		}
	}
	if product == "" {
		return errors.New("product name cannot be empty")
	}

	modeName := a.cfg.Mode
	if mode != "" {
		modeName = mode
	}
	profile, err := purchase.ProfileByName(modeName)
	if err != nil {
		return err
	}

	if !a.cfg.ReuseExistingBrowser {
		if err := a.promptCredentials(); err != nil {
			return err
		}
	}
	if err := a.cfg.RequireLaunchCredentials(); err != nil {
		color.Red("❌ %v", err)
		return err
	}

	connector, err := a.connector(0)
	if err != nil {
		return err
	}
	buyer := purchase.NewBuyer(connector, purchase.Options{
		BaseURL: a.cfg.Store.BaseURL,
		Reuse:   a.cfg.ReuseExistingBrowser,
		Auth: &purchase.FormLogin{
			Email:    a.cfg.Credentials.Email,
			Password: a.cfg.Credentials.Password,
		},
		Screenshots: artifacts.NewStore(a.cfg.ScreenshotsDir),
	}, a.log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bold := color.New(color.Bold)
	bold.Printf("\n⚡ Flash buy: %s (%s mode)\n", product, profile.Name)
	if !waitCountdown(ctx, countdown) {
		return ctx.Err()
	}

	runCtx, cancel := context.WithTimeout(ctx, a.cfg.RunTimeout.Std())
	defer cancel()

	report, err := buyer.Run(runCtx, product, profile)
	if err != nil {
		color.Red("\n❌ Run aborted: %v\n", err)
		if report == nil {
			return err
		}
	}

	printReport(report)
	if jsonReport {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			a.log.Warn("could not print report", zap.Error(err))
		}
	}
	if err != nil {
		return err
	}
	if !report.Success {
		return fmt.Errorf("purchase failed at %s", report.FailedAt)
	}
	return nil
}

// waitCountdown prints a seconds countdown and reports false if ctx ended first.
func waitCountdown(ctx context.Context, seconds int) bool {
	for i := seconds; i > 0; i-- {
		fmt.Printf("   starting in %d...\n", i)
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func printReport(r *purchase.Report) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	if r.Success {
		color.Green("✅ %s reached in %.2fs", r.Stage, r.Elapsed.Seconds())
	} else {
		color.Red("❌ Failed at %s after %.2fs", r.FailedAt, r.Elapsed.Seconds())
		fmt.Printf("   Reason: %s\n", r.Reason)
	}
	fmt.Println(strings.Repeat("=", 60))

	for _, st := range r.Stages {
		line := fmt.Sprintf("   %-17s attempts=%d", st.Stage, st.Attempts)
		if st.Error != "" {
			color.Yellow("%s  %s", line, st.Error)
			continue
		}
		fmt.Println(line)
	}
	if r.ProductTitle != "" {
		fmt.Printf("   Product: %s\n", r.ProductTitle)
	}
	if cart := r.Action(purchase.InCart); cart != nil {
		fmt.Printf("   Add to cart: %s strategy, confirmed=%t\n", cart.Strategy, cart.Confirmed)
	}
	if r.Recoveries > 0 {
		fmt.Printf("   Session recoveries: %d\n", r.Recoveries)
	}
	for _, path := range r.Screenshots {
		fmt.Printf("   Screenshot: %s\n", path)
	}
	fmt.Println()
}
