package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/spraydrop/pkg/custody"
	"github.com/malbeclabs/spraydrop/pkg/escrow"
	"github.com/malbeclabs/spraydrop/pkg/ledger"
	"github.com/malbeclabs/spraydrop/pkg/logger"
	"github.com/malbeclabs/spraydrop/pkg/members"
	"github.com/malbeclabs/spraydrop/pkg/metrics"
	"github.com/malbeclabs/spraydrop/pkg/notify"
	"github.com/malbeclabs/spraydrop/pkg/plan"
	"github.com/malbeclabs/spraydrop/pkg/server"
	"github.com/malbeclabs/spraydrop/pkg/session"
	"github.com/malbeclabs/spraydrop/pkg/weights"
)

const defaultRPCURL = "https://api.mainnet-beta.solana.com"

// Set at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// Ledger configuration
	rpcURLFlag := flag.String("rpc-url", defaultRPCURL, "Solana RPC endpoint (or set SOLANA_RPC_URL env var)")
	operatorKeypairFlag := flag.String("operator-keypair", "", "Path to the operator's keypair file")

	// Distribution parameters
	amountFlag := flag.Float64("amount", 0, "Total amount to distribute (UI units)")
	mintFlag := flag.String("mint", "", "SPL token mint to distribute (empty = native SOL)")
	collectionsFileFlag := flag.String("collections-file", "", "JSON file mapping collection IDs to asset mint lists")
	collectionsFlag := flag.StringSlice("collections", nil, "Collection IDs whose holders receive weight")
	includeMembersFlag := flag.Bool("include-members", false, "Include registered-member scores as a weight source")
	escrowExtraFlag := flag.StringSlice("escrow-extra", nil, "Additional escrow addresses to exclude")
	batchSizeFlag := flag.Int("batch-size", plan.DefaultBatchSize, "Payout instructions per batch transaction")
	maxConcurrencyFlag := flag.Int("max-concurrency", 8, "Maximum concurrent holder lookups")
	lookupsPerSecondFlag := flag.Float64("lookups-per-second", 20, "Holder lookup rate limit")

	// Member roster database
	postgresDSNFlag := flag.String("postgres-dsn", "", "Postgres DSN for the member roster (or set POSTGRES_DSN env var)")
	migrateFlag := flag.Bool("migrate", false, "Apply the member roster schema and exit")

	// Custodial key backup
	backupOutFlag := flag.String("backup-out", "custodial-key.json", "Path to write the one-time custodial key backup")
	yesFlag := flag.Bool("yes", false, "Skip the backup confirmation prompt (use with caution)")

	// Run modes and surfaces
	dryRunFlag := flag.Bool("dry-run", false, "Plan and estimate only; no ledger writes")
	listenFlag := flag.String("listen", "", "Address for the status/metrics HTTP server (empty = disabled)")
	slackTokenFlag := flag.String("slack-token", "", "Slack bot token for run summaries (or set SLACK_BOT_TOKEN env var)")
	slackChannelFlag := flag.String("slack-channel", "", "Slack channel for run summaries (or set SLACK_CHANNEL env var)")

	flag.Parse()

	log := logger.New(*verboseFlag)
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	// Override flags with environment variables if set
	if envRPCURL := os.Getenv("SOLANA_RPC_URL"); envRPCURL != "" && *rpcURLFlag == defaultRPCURL {
		*rpcURLFlag = envRPCURL
	}
	if envDSN := os.Getenv("POSTGRES_DSN"); envDSN != "" && *postgresDSNFlag == "" {
		*postgresDSNFlag = envDSN
	}
	if envToken := os.Getenv("SLACK_BOT_TOKEN"); envToken != "" && *slackTokenFlag == "" {
		*slackTokenFlag = envToken
	}
	if envChannel := os.Getenv("SLACK_CHANNEL"); envChannel != "" && *slackChannelFlag == "" {
		*slackChannelFlag = envChannel
	}

	if *migrateFlag {
		if *postgresDSNFlag == "" {
			return fmt.Errorf("--migrate requires --postgres-dsn")
		}
		if err := members.Migrate(*postgresDSNFlag); err != nil {
			return err
		}
		log.Info("member roster schema applied")
		return nil
	}

	if *operatorKeypairFlag == "" {
		return fmt.Errorf("--operator-keypair is required")
	}
	if *amountFlag <= 0 {
		return fmt.Errorf("--amount must be positive")
	}
	if !*includeMembersFlag && len(*collectionsFlag) == 0 {
		return fmt.Errorf("select at least one weight source (--include-members and/or --collections)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	operator, err := solana.PrivateKeyFromSolanaKeygenFile(*operatorKeypairFlag)
	if err != nil {
		return fmt.Errorf("failed to load operator keypair: %w", err)
	}

	var mint solana.PublicKey
	isNative := *mintFlag == ""
	if !isNative {
		mint, err = solana.PublicKeyFromBase58(*mintFlag)
		if err != nil {
			return fmt.Errorf("invalid mint %q: %w", *mintFlag, err)
		}
	}

	chain, err := ledger.NewRPC(ledger.RPCConfig{
		Logger: log,
		Client: solanarpc.New(*rpcURLFlag),
	})
	if err != nil {
		return err
	}

	filter, err := escrow.NewFilter(*escrowExtraFlag...)
	if err != nil {
		return err
	}

	registry := weights.NewCollectionRegistry(nil)
	if *collectionsFileFlag != "" {
		registry, err = weights.LoadCollections(*collectionsFileFlag)
		if err != nil {
			return err
		}
	} else if len(*collectionsFlag) > 0 {
		return fmt.Errorf("--collections requires --collections-file")
	}

	var roster members.Provider
	if *includeMembersFlag {
		if *postgresDSNFlag == "" {
			return fmt.Errorf("--include-members requires --postgres-dsn")
		}
		provider, err := members.NewPostgresProvider(ctx, members.PostgresConfig{
			Logger:  log,
			ConnStr: *postgresDSNFlag,
		})
		if err != nil {
			return err
		}
		defer provider.Close()
		roster = provider
	}

	resolver, err := weights.NewResolver(weights.ResolverConfig{
		Logger:           log,
		Ledger:           chain,
		Escrow:           filter,
		Members:          roster,
		Collections:      registry,
		MaxConcurrency:   *maxConcurrencyFlag,
		LookupsPerSecond: *lookupsPerSecondFlag,
	})
	if err != nil {
		return err
	}

	log.Info("resolving recipient weights",
		"collections", *collectionsFlag,
		"include_members", *includeMembersFlag)
	resolved, err := resolver.Resolve(ctx, weights.Request{
		IncludeMembers: *includeMembersFlag,
		CollectionIDs:  *collectionsFlag,
	})
	if err != nil {
		return err
	}
	if len(resolved.Recipients) == 0 {
		// Terminal but not an error: there is simply nobody to pay.
		log.Info("no holders found; nothing to distribute")
		return nil
	}
	log.Info("recipient set resolved",
		"recipients", len(resolved.Recipients),
		"total_weight", resolved.TotalWeight)

	decimals := uint8(9)
	var rentPerAccount uint64
	if !isNative {
		decimals, err = chain.MintDecimals(ctx, mint)
		if err != nil {
			return err
		}
		rentPerAccount, err = chain.RentExemptBalance(ctx, plan.TokenAccountSize)
		if err != nil {
			return err
		}
	}

	p, err := plan.Compute(plan.Input{
		TotalAmount:    *amountFlag,
		Recipients:     resolved.Recipients,
		TotalWeight:    resolved.TotalWeight,
		AssetDecimals:  decimals,
		IsNativeAsset:  isNative,
		RentPerAccount: rentPerAccount,
		BatchSize:      *batchSizeFlag,
	})
	if err != nil {
		return err
	}

	fmt.Printf("\nDistribution plan:\n")
	fmt.Printf("  recipients: %d (of %d resolved; dust skipped)\n", len(p.Payouts), len(resolved.Recipients))
	fmt.Printf("  batches:    %d of up to %d payouts each\n", p.BatchCount(), p.BatchSize)
	fmt.Printf("  per unit:   %g\n", p.PerUnitAmount)
	fmt.Printf("Estimated cost (advisory):\n")
	fmt.Printf("  fees:   %.9f SOL\n", ledger.LamportsToSOL(p.Estimate.FeeEstimate))
	fmt.Printf("  rent:   %.9f SOL\n", ledger.LamportsToSOL(p.Estimate.RentEstimate))
	fmt.Printf("  buffer: %.9f SOL\n", ledger.LamportsToSOL(p.Estimate.BufferReserve))
	fmt.Printf("  total:  %.9f SOL\n\n", ledger.LamportsToSOL(p.Estimate.TotalEstimate))

	if *dryRunFlag {
		log.Info("dry run; no funds were moved")
		return nil
	}

	key, err := custody.Generate()
	if err != nil {
		return err
	}
	backup, err := key.ExportForBackup()
	if err != nil {
		return err
	}
	if err := os.WriteFile(*backupOutFlag, backup, 0o600); err != nil {
		return fmt.Errorf("failed to write custodial key backup: %w", err)
	}
	fmt.Printf("Custodial account: %s\n", key.PublicKey())
	fmt.Printf("Backup written to %s — this file is the ONLY recovery path if this process dies mid-run.\n", *backupOutFlag)

	// The backup acknowledgment is a hard precondition for funding.
	if !*yesFlag {
		fmt.Printf("Type 'yes' to confirm you have safely stored the backup: ")
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Printf("\nConfirmation failed. Distribution cancelled; no funds were moved.\n")
			return nil
		}
	}
	if err := key.AcknowledgeBackup(); err != nil {
		return err
	}

	sess, err := session.New(session.Config{
		Logger:   log,
		Ledger:   chain,
		Plan:     p,
		Key:      key,
		Operator: operator,
		Mint:     mint,
	})
	if err != nil {
		return err
	}

	if *listenFlag != "" {
		srv, err := server.New(server.Config{
			Logger:     log,
			ListenAddr: *listenFlag,
			Source:     sess,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.Error("status server failed", "error", err)
			}
		}()
	}

	report, err := sess.Run(ctx)
	if err != nil {
		return err
	}

	notifier := notify.NewNotifier(*slackTokenFlag, *slackChannelFlag, log)
	notifier.RunComplete(context.Background(), report)

	printReport(report)
	return nil
}

func printReport(report *session.Report) {
	fmt.Printf("\nRun %s finished: %d batches confirmed, %d failed\n",
		report.Status.ID, report.Confirmed, report.Failed)
	for _, r := range report.Status.BatchLog {
		if r.Err != "" {
			fmt.Printf("  batch %d FAILED: %s\n", r.BatchIndex, r.Err)
			for _, p := range r.Payouts {
				fmt.Printf("    unpaid: %s (raw %d)\n", p.Recipient.Address, p.RawAmount)
			}
		} else {
			fmt.Printf("  batch %d confirmed: %s\n", r.BatchIndex, r.Signature)
		}
	}
	for _, w := range report.Warnings {
		fmt.Printf("  %s\n", w)
	}
}
