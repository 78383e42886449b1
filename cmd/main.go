package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"

	"flash-buyer/internal/browser"
	"flash-buyer/internal/config"
	"flash-buyer/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var (
	configPath string
	driverName string
	headless   bool
	reuse      bool
)

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flashbuy",
		Short: "Add a product to an Amazon cart as fast as possible",
		Long: `flashbuy signs in, searches for a product, opens the first result and adds
it to the cart. Safe mode continues to the checkout page and stops before payment.

A browser prepared with "flashbuy prepare" is reattached by later runs, so the
sign-in and browser start-up happen before the sale opens.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: config/config.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&driverName, "driver", "", "Browser driver: chromedp or playwright (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", false, "Run the browser headless (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&reuse, "reuse", false, "Reattach to a prepared browser (overrides config)")

	rootCmd.AddCommand(newBuyCmd(), newPrepareCmd(), newCheckCmd())
	return rootCmd
}

// app is the wiring shared by every command.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	closeLog func()
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("driver") {
		cfg.Driver = driverName
	}
	if cmd.Flags().Changed("headless") {
		cfg.Headless = headless
	}
	if cmd.Flags().Changed("reuse") {
		cfg.ReuseExistingBrowser = reuse
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, closeLog, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return nil, err
	}
	if cfg.Source != "" {
		log.Debug("loaded config", zap.String("path", cfg.Source))
	}
	return &app{cfg: cfg, log: log, closeLog: closeLog}, nil
}

// connector builds the configured driver backend. debugPort > 0 makes
// launched browsers listen for reattachment.
func (a *app) connector(debugPort int) (browser.Connector, error) {
	return browser.NewConnector(a.cfg.Driver, browser.Options{
		Headless:            a.cfg.Headless,
		DebuggerAddress:     a.cfg.DebuggerAddress,
		RemoteDebuggingPort: debugPort,
	}, a.cfg.SessionDir, a.log)
}

// promptCredentials asks for whatever part of the credentials is missing
// when stdin is a terminal.
func (a *app) promptCredentials() error {
	if a.cfg.HasCredentials() || !term.IsTerminal(int(syscall.Stdin)) {
		return nil
	}
	if a.cfg.Credentials.Email == "" {
		email, err := prompt("Amazon email: ")
		if err != nil {
			return err
		}
		a.cfg.Credentials.Email = email
	}
	fmt.Print("Amazon password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	a.cfg.Credentials.Password = strings.TrimSpace(string(passwordBytes))
	return nil
}

func prompt(label string) (string, error) {
	fmt.Print(label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// debugPort extracts the port of a host:port debugger address.
func debugPort(addr string) (int, error) {
	if i := strings.Index(addr, "://"); i >= 0 {
		addr = addr[i+3:]
	}
	addr = strings.TrimSuffix(addr, "/")
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("debugger address %q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("debugger address %q: invalid port", addr)
	}
	return n, nil
}
