// main.go - zsad: a shielded pool node with custom asset issuance.
//
// Commands:
//
//	zsad setup    compile the action circuit and generate or load its Groth16 keys
//	zsad demo     run an issuance, transfer and burn scenario against the ledger
//	zsad status   report the health of keys, ledger and wallets
//
// All commands share a JSON config file (--config), created with defaults when
// missing.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"zsapool/internal/circuit"
	"zsapool/internal/ledger"
	"zsapool/internal/wallet"
)

const version = "0.1.0"

// app is the state shared by every command.
type app struct {
	cfg     *Config
	logger  *Logger
	metrics *Metrics
	server  *http.Server
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	a := &app{}
	root := &cobra.Command{
		Use:           "zsad",
		Short:         "Shielded pool node with custom asset issuance",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init(configPath)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "zsad.json", "path to the JSON config file")
	root.AddCommand(setupCommand(a), demoCommand(a), statusCommand(a))
	return root
}

func (a *app) init(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	auditPath := ""
	if cfg.EnableAudit {
		auditPath = cfg.AuditLogPath
	}
	logger, err := NewLogger(cfg.LogLevel, cfg.LogFile, auditPath)
	if err != nil {
		return err
	}
	for _, dir := range []string{cfg.KeyDir, cfg.WalletDir, filepath.Dir(cfg.LedgerPath)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			_ = logger.Close()
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	runtime.GOMAXPROCS(cfg.MaxConcurrency)

	a.cfg, a.logger, a.metrics = cfg, logger, NewMetrics()
	if cfg.MetricsAddr != "" {
		a.server = a.metrics.Serve(cfg.MetricsAddr)
	}
	log.Debug().Str("config", configPath).Msg("configuration loaded")
	return nil
}

func (a *app) close() error {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.server.Shutdown(ctx)
	}
	if a.logger != nil {
		return a.logger.Close()
	}
	return nil
}

// loadKeys compiles the circuit and loads its keys, generating them on first use.
func (a *app) loadKeys() (*circuit.ProvingKey, *circuit.VerifyingKey, error) {
	start := time.Now()
	pk, vk, err := circuit.SetupOrLoadKeys(a.cfg.ProvingKeyPath(), a.cfg.VerifyingKeyPath())
	if err != nil {
		a.metrics.RecordError("setup")
		return nil, nil, err
	}
	elapsed := time.Since(start)
	a.metrics.RecordCircuitSetup(elapsed)
	log.Info().Dur("elapsed", elapsed).Str("dir", a.cfg.KeyDir).Msg("proving keys ready")
	return pk, vk, nil
}

func setupCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Compile the action circuit and generate or load its proving keys",
		RunE: func(*cobra.Command, []string) error {
			if _, _, err := a.loadKeys(); err != nil {
				return err
			}
			a.logger.Audit("setup", map[string]any{"key_dir": a.cfg.KeyDir})
			return nil
		},
	}
}

func demoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Issue a custom asset, transfer it, burn part of it and apply everything to the ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Timeout())
			defer cancel()
			if err := runDemo(ctx, a); err != nil {
				a.metrics.RecordError("demo")
				log.Error().Err(err).Msg("demo failed")
				return err
			}
			return nil
		},
	}
}

func statusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the health of keys, ledger and wallets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			hc := NewHealthChecker(version)
			hc.RegisterComponent("keys", a.checkKeys)
			hc.RegisterComponent("ledger", a.checkLedger)
			hc.RegisterComponent("wallets", a.checkWallets)
			health := hc.CheckHealth()

			out, err := json.MarshalIndent(health, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if health.OverallStatus == Unhealthy {
				return fmt.Errorf("node is unhealthy")
			}
			return nil
		},
	}
}

func (a *app) checkKeys() error {
	if a.cfg.SkipProofs {
		return errDegraded{msg: "proofs disabled by configuration"}
	}
	for _, p := range []string{a.cfg.ProvingKeyPath(), a.cfg.VerifyingKeyPath()} {
		if _, err := os.Stat(p); err != nil {
			return errDegraded{msg: fmt.Sprintf("%s missing, run setup", p)}
		}
	}
	_, err := circuit.LoadVerifyingKey(a.cfg.VerifyingKeyPath())
	return err
}

func (a *app) checkLedger() error {
	l, err := ledger.Open(a.cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer l.Close()
	cmxs, err := l.Commitments()
	if err != nil {
		return err
	}
	assets, err := l.Assets()
	if err != nil {
		return err
	}
	a.metrics.SetLedgerCommitments(len(cmxs))
	log.Info().Int("commitments", len(cmxs)).Int("assets", len(assets)).Str("anchor", l.Anchor().String()).Msg("ledger")
	return nil
}

func (a *app) checkWallets() error {
	paths, err := filepath.Glob(filepath.Join(a.cfg.WalletDir, "*_wallet.json"))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errDegraded{msg: "no wallets, run demo"}
	}
	for _, p := range paths {
		w, err := wallet.Load(p)
		if err != nil {
			return err
		}
		log.Info().Str("wallet", w.Name).Int("notes", len(w.Notes())).Msg("wallet")
	}
	return nil
}
