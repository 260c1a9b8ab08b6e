package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"inlay/internal/auth"
	"inlay/internal/config"
	"inlay/internal/engine"
	"inlay/internal/intercept"
	"inlay/internal/logging"
	"inlay/internal/page"
)

var (
	attachURL    string
	attachTarget string
)

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Attach to a live conversation-log tab and keep it augmented",
	Long: `Attach connects to a browser over the DevTools protocol, finds the tab
whose URL matches the configured page pattern, and runs the full pipeline
against it: network tap, payload normalization, image resolution and
in-page rendering. Runs until interrupted; on shutdown every injected
artifact is removed.`,
	RunE: runAttach,
}

func init() {
	attachCmd.Flags().StringVar(&attachURL, "url", "", "DevTools websocket URL (overrides config)")
	attachCmd.Flags().StringVar(&attachTarget, "target", "", "substring selecting the log tab (overrides config)")
}

func runAttach(cmd *cobra.Command, args []string) error {
	if attachURL != "" {
		cfg.Browser.DebuggerURL = attachURL
	}
	if attachTarget != "" {
		cfg.Browser.PagePattern = attachTarget
	}
	log := logging.Get(logging.CategoryBoot)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	browser, err := connectBrowser(ctx, cfg.Browser)
	if err != nil {
		return err
	}
	defer browser.Close()

	tab, err := findLogTab(browser, cfg.Browser.PagePattern)
	if err != nil {
		return err
	}
	info, err := tab.Info()
	if err != nil {
		return fmt.Errorf("inspect tab: %w", err)
	}
	log.Info("attached", zap.String("url", info.URL))

	authCtx := auth.NewContext(cfg.Intercept.OrganizationHeader, cfg.Intercept.ProjectHeader)
	if cfg.Intercept.SeedAuthorization != "" {
		authCtx.SeedAuthorization(cfg.Intercept.SeedAuthorization)
	}

	surface := page.NewLive(tab, page.DefaultCardMarkup())
	eng := engine.New(cfg, surface, authCtx)

	tap := intercept.NewTap(tab, cfg.Intercept, authCtx, eng)
	if err := tap.Start(ctx); err != nil {
		return fmt.Errorf("start network tap: %w", err)
	}
	defer tap.Stop()

	bridge := page.NewBridge(tab)
	if err := bridge.Install(ctx); err != nil {
		return fmt.Errorf("install page bridge: %w", err)
	}
	eng.SetBridge(bridge)

	watcher, err := config.NewWatcher(cfgPath, eng.SetConfig)
	if err != nil {
		log.Warn("config watch unavailable", zap.Error(err))
	} else if err := watcher.Start(ctx); err != nil {
		log.Warn("config watch failed to start", zap.Error(err))
	} else {
		defer watcher.Stop()
	}

	go eng.Run(ctx)
	// First pass without waiting for traffic: whatever the page already
	// shows may carry markdown image links.
	eng.Navigated(info.URL)

	<-ctx.Done()
	log.Info("shutting down")
	eng.Stop()

	teardownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	eng.Teardown(teardownCtx)
	return nil
}

// connectBrowser reuses a running browser via its debugger URL, or launches
// one from the configured binary and flags.
func connectBrowser(ctx context.Context, bc config.BrowserConfig) (*rod.Browser, error) {
	controlURL := bc.DebuggerURL
	if controlURL == "" && len(bc.Launch) > 0 {
		bin := bc.Launch[0]
		launch := launcher.New().Bin(bin).Headless(bc.Headless)
		for _, rawFlag := range bc.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		url, err := launch.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = url
	}
	if controlURL == "" {
		url, err := launcher.New().Headless(bc.Headless).Launch()
		if err != nil {
			return nil, fmt.Errorf("no debugger_url and failed to launch: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	return browser, nil
}

// findLogTab picks the first open page whose URL contains pattern.
func findLogTab(browser *rod.Browser, pattern string) (*rod.Page, error) {
	pages, err := browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if strings.Contains(info.URL, pattern) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no open tab matches %q (%d tabs inspected)", pattern, len(pages))
}
