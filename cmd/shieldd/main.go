// main.go - shieldd, a shielded-pool wallet and reference pool service.
//
// Wallet commands keep their state in a LevelDB directory (data_dir) and talk
// to a pool over HTTP (pool_address):
//
//	shieldd init
//	shieldd setup
//	shieldd deposit 100
//	shieldd withdraw 60 0xbeef
//	shieldd balance
//
// "shieldd serve" runs the reference pool that verifies proofs and tracks
// roots and nullifiers.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"shieldpool/internal/codec"
	"shieldpool/internal/field"
	"shieldpool/internal/hashing"
	"shieldpool/internal/orchestrator"
	"shieldpool/internal/pool"
	"shieldpool/internal/poolrpc"
	"shieldpool/internal/prover"
	"shieldpool/internal/store"
	"shieldpool/internal/wallet"
)

const version = "0.1.0"

var errNotInitialised = errors.New("wallet not initialised; run shieldd init first")

type app struct {
	configPath string
	cfg        *Config
	log        *Logger
	metrics    *Metrics
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "shieldd",
		Short:         "Shielded-pool wallet and reference pool service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.log != nil {
				return a.log.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "shieldd.json",
		"config file (.json, .toml or .yaml); created with defaults when missing")

	root.AddCommand(
		a.initCmd(),
		a.setupCmd(),
		a.depositCmd(),
		a.withdrawCmd(),
		a.balanceCmd(),
		a.historyCmd(),
		a.exportCmd(),
		a.importCmd(),
		a.statusCmd(),
		a.serveCmd(),
	)
	return root
}

func (a *app) load(console io.Writer) error {
	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", a.configPath, err)
	}
	audit := ""
	if cfg.EnableAudit {
		audit = cfg.AuditLogPath
	}
	log, err := NewLogger(console, cfg.LogLevel, cfg.LogFile, audit)
	if err != nil {
		return err
	}
	a.cfg, a.log, a.metrics = cfg, log, NewMetrics()
	return nil
}

func (a *app) timeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, time.Duration(a.cfg.TimeoutSeconds)*time.Second)
}

func (a *app) walletConfig() wallet.Config {
	poolID, _ := a.cfg.PoolElement()
	return wallet.Config{
		Depth:    a.cfg.Depth,
		Hasher:   a.cfg.Hasher,
		PoolID:   poolID,
		Logger:   a.log.Logger,
		Observer: a.metrics,
	}
}

func (a *app) newProver() (*prover.Groth16, error) {
	start := time.Now()
	g, err := prover.New(prover.Config{
		Depth:  a.cfg.Depth,
		Hasher: a.cfg.Hasher,
		KeyDir: a.cfg.KeyDir,
		Logger: a.log.Logger,
	})
	if err != nil {
		return nil, err
	}
	a.metrics.RecordCircuitSetup(time.Since(start))
	return g, nil
}

// openWallet opens an initialised wallet. withProver compiles the circuits,
// which only deposit and withdraw need.
func (a *app) openWallet(withProver bool) (*wallet.Wallet, *store.Store, error) {
	st, err := store.Open(a.cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	meta, ok, err := st.Meta()
	if err == nil && !ok {
		err = errNotInitialised
	}
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	var p orchestrator.Prover
	if withProver {
		g, err := a.newProver()
		if err != nil {
			st.Close()
			return nil, nil, err
		}
		p = g
	}
	h, err := hashing.ByName(meta.Hasher)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	owner := codec.New(h).DeriveOwner(meta.SecretKey).Hex()
	chain := poolrpc.NewClient(a.cfg.PoolAddress, "wallet-"+owner[2:18])

	w, err := wallet.Open(st, a.walletConfig(), p, chain)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return w, st, nil
}

func (a *app) initCmd() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the wallet store and its secret key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := os.MkdirAll(filepath.Dir(a.cfg.DataDir), 0o755); err != nil {
				return err
			}
			st, err := store.Open(a.cfg.DataDir)
			if err != nil {
				return err
			}
			defer st.Close()
			_, existed, err := st.Meta()
			if err != nil {
				return err
			}

			cfg := a.walletConfig()
			if secret != "" {
				if existed {
					return fmt.Errorf("wallet in %s already has a secret key", a.cfg.DataDir)
				}
				if cfg.SecretKey, err = parseElement(secret); err != nil {
					return fmt.Errorf("secret key: %w", err)
				}
			}
			w, err := wallet.Open(st, cfg, nil, nil)
			if err != nil {
				return err
			}
			meta := w.Meta()
			if !existed {
				a.log.Audit("wallet_created", map[string]any{"owner": w.Owner().Hex(), "data_dir": a.cfg.DataDir})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "owner:   %s\n", w.Owner().Hex())
			fmt.Fprintf(out, "pool:    %s\n", meta.PoolID)
			fmt.Fprintf(out, "depth:   %d\n", meta.Depth)
			fmt.Fprintf(out, "hasher:  %s\n", meta.Hasher)
			fmt.Fprintf(out, "created: %s\n", meta.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret-key", "", "import this secret key instead of drawing one")
	return cmd
}

func (a *app) setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Compile the circuits and generate or load their Groth16 keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.newProver(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "keys ready in %s\n", a.cfg.KeyDir)
			return nil
		},
	}
}

func (a *app) depositCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deposit AMOUNT",
		Short: "Shield AMOUNT into a new commitment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			w, st, err := a.openWallet(true)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := a.timeout(cmd.Context())
			defer cancel()
			res, err := w.Deposit(ctx, amount)
			if err != nil {
				return err
			}
			a.log.Audit("deposit", map[string]any{"op": res.OperationID, "tx": res.TxRef, "amount": amount})

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tx:         %s\n", res.TxRef)
			fmt.Fprintf(out, "commitment: %s\n", res.Commitment.Hex())
			fmt.Fprintf(out, "leaf:       %d\n", res.LeafIndex)
			fmt.Fprintf(out, "root:       %s\n", res.Root.Hex())
			return nil
		},
	}
}

func (a *app) withdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw AMOUNT RECIPIENT",
		Short: "Release AMOUNT from one commitment to RECIPIENT",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			recipient, err := parseElement(args[1])
			if err != nil {
				return fmt.Errorf("recipient: %w", err)
			}
			w, st, err := a.openWallet(true)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := a.timeout(cmd.Context())
			defer cancel()
			res, err := w.Withdraw(ctx, amount, recipient)
			if err != nil {
				return err
			}
			a.log.Audit("withdraw", map[string]any{
				"op":        res.OperationID,
				"tx":        res.TxRef,
				"amount":    amount,
				"recipient": recipient.Hex(),
				"nullifier": res.Nullifier.Hex(),
			})

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tx:        %s\n", res.TxRef)
			fmt.Fprintf(out, "nullifier: %s\n", res.Nullifier.Hex())
			if res.Change != nil {
				fmt.Fprintf(out, "change:    %d in %s\n", res.Change.Amount, res.Change.Commitment.Hex())
			}
			fmt.Fprintf(out, "root:      %s\n", res.Root.Hex())
			return nil
		},
	}
}

func (a *app) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the unspent balance and its commitments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, st, err := a.openWallet(false)
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "balance: %d\n", w.Balance())
			unspent := w.Unspent()
			if len(unspent) == 0 {
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LEAF\tAMOUNT\tCOMMITMENT")
			for _, rec := range unspent {
				fmt.Fprintf(tw, "%d\t%d\t%s\n", rec.LeafIndex, rec.Amount, rec.Commitment.Hex())
			}
			return tw.Flush()
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List finished operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, st, err := a.openWallet(false)
			if err != nil {
				return err
			}
			defer st.Close()
			entries, err := w.Journal()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tWHEN\tKIND\tAMOUNT\tRESULT")
			for _, e := range entries {
				result := e.TxRef
				if e.Error != "" {
					result = "failed: " + e.Error
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", e.Seq, e.At.Format(time.RFC3339), e.Kind, e.Amount, result)
			}
			return tw.Flush()
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [FILE]",
		Short: "Write the coin ledger state to FILE or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, st, err := a.openWallet(false)
			if err != nil {
				return err
			}
			defer st.Close()
			data, err := w.Export()
			if err != nil {
				return err
			}
			a.log.Audit("state_exported", map[string]any{"commitments": len(w.Records())})
			if len(args) == 0 {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			return os.WriteFile(args[0], data, 0o600)
		},
	}
}

func (a *app) importCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Replace the coin ledger with an exported state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var confirmed *field.Element
			if root != "" {
				r, err := parseElement(root)
				if err != nil {
					return fmt.Errorf("root: %w", err)
				}
				confirmed = &r
			}
			w, st, err := a.openWallet(false)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := w.Import(data, confirmed); err != nil {
				return err
			}
			a.log.Audit("state_imported", map[string]any{"file": args[0], "root": w.Root().Hex()})
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d commitments, balance %d, root %s\n",
				len(w.Records()), w.Balance(), w.Root().Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "reject the import unless the rebuilt tree has this root")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query the pool service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.timeout(cmd.Context())
			defer cancel()
			st, err := poolrpc.NewClient(a.cfg.PoolAddress, "status").Status(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "root:        %s\n", st.Root.Hex())
			fmt.Fprintf(out, "leaves:      %d\n", st.LeafCount)
			fmt.Fprintf(out, "balance:     %d\n", st.Balance)
			fmt.Fprintf(out, "paused:      %t\n", st.Paused)
			fmt.Fprintf(out, "deposits:    %d\n", st.Stats.Deposits)
			fmt.Fprintf(out, "withdrawals: %d\n", st.Stats.Withdrawals)
			fmt.Fprintf(out, "rejected:    %d\n", st.Stats.Rejected)
			return nil
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reference pool service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	h, err := hashing.ByName(cfg.Hasher)
	if err != nil {
		return err
	}

	verifier, err := prover.LoadVerifier(cfg.KeyDir, cfg.Depth, cfg.Hasher)
	if err != nil {
		a.log.Warn().Err(err).Msg("verifying keys not found, running setup")
		g, err := a.newProver()
		if err != nil {
			return err
		}
		verifier = g.Verifier()
	}

	poolCfg := pool.Config{
		Depth:       cfg.Depth,
		Hasher:      h,
		RootHistory: cfg.RootHistory,
		Logger:      a.log.With().Str("component", "pool").Logger(),
	}
	p, err := pool.LoadFromFile(cfg.PoolStatePath, poolCfg, verifier)
	if errors.Is(err, os.ErrNotExist) {
		p, err = pool.New(poolCfg, verifier)
	}
	if err != nil {
		return fmt.Errorf("pool state %s: %w", cfg.PoolStatePath, err)
	}

	health := NewHealthChecker(version)
	health.RegisterComponent("pool", func() error {
		if p.Status().Paused {
			return ErrDegraded("pool is paused")
		}
		return nil
	})
	health.RegisterComponent("state_dir", func() error {
		_, err := os.Stat(filepath.Dir(cfg.PoolStatePath))
		return err
	})

	var limiter poolrpc.Limiter
	if cfg.RateLimit > 0 {
		limiter = NewSenderRateLimiter(cfg.RateLimit, cfg.RateBurst, 10*time.Minute)
	}

	srv := poolrpc.NewServer(p, poolrpc.ServerConfig{
		Address: cfg.ListenAddress,
		Logger:  a.log.Logger,
		Limiter: limiter,
		Health:  health,
		OnConfirmed: func(txID string) {
			if err := p.SaveToFile(cfg.PoolStatePath); err != nil {
				a.log.Error().Err(err).Str("tx", txID).Msg("failed to save pool state")
			}
			a.log.Audit("tx_confirmed", map[string]any{"tx": txID, "root": p.Root().Hex()})
		},
	})
	addr, err := srv.Start()
	if err != nil {
		return err
	}
	a.log.Info().Str("addr", addr).Str("root", p.Root().Hex()).Msg("pool service ready")

	var metricsSrv *http.Server
	if cfg.MetricsAddress != "" {
		a.metrics.WatchPool(p)
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", a.metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	<-ctx.Done()
	a.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return p.SaveToFile(cfg.PoolStatePath)
}
