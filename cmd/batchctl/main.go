package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"batchpay/escrow"
	"batchpay/ledger"
)

const (
	defaultConfig = "./batchctl.toml"
	defaultKeyEnv = "BATCHPAY_SIGNER_KEY"
)

type fileConfig struct {
	LedgerURL   string `toml:"LedgerURL"`
	LedgerToken string `toml:"LedgerToken"`
	SignerKey   string `toml:"SignerKey"`
	SignerEnv   string `toml:"SignerEnv"`
	Timeout     string `toml:"Timeout"`
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd, args := os.Args[1], os.Args[2:]
	run, ok := commands[cmd]
	if !ok {
		usage()
		os.Exit(1)
	}
	if err := run(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var commands = map[string]func([]string) error{
	"create":  runCreate,
	"confirm": runConfirm,
	"dispute": runDispute,
	"vote":    runVote,
	"resolve": runResolve,
	"claim":   runClaim,
	"show":    runShow,
	"list":    runList,
	"votes":   runVotes,
	"fee":     runFee,
	"count":   runCount,
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: batchctl <command> [flags]

Commands:
  create    lock funds in a new escrow for a batch purchase
  confirm   confirm delivery as the buyer
  dispute   open a dispute with an evidence hash
  vote      cast an arbitrator ballot (buyer|seller)
  resolve   request settlement of a disputed escrow
  claim     claim funds after the confirmation window lapsed
  show      print one escrow in display form
  list      list escrow ids by buyer or seller address
  votes     print recorded dispute ballots
  fee       estimate the total cost for a product price
  count     print the total number of escrows`)
}

func newClient(fs *flag.FlagSet) (*escrow.Client, context.Context, context.CancelFunc, error) {
	configPath := fs.Lookup("config").Value.String()
	var cfg fileConfig
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		return nil, nil, nil, fmt.Errorf("read config %s: %w", configPath, err)
	}
	if strings.TrimSpace(cfg.LedgerURL) == "" {
		return nil, nil, nil, fmt.Errorf("config %s does not set LedgerURL", configPath)
	}
	key := strings.TrimSpace(cfg.SignerKey)
	if key == "" {
		env := strings.TrimSpace(cfg.SignerEnv)
		if env == "" {
			env = defaultKeyEnv
		}
		key = strings.TrimSpace(os.Getenv(env))
	}
	if key == "" {
		return nil, nil, nil, fmt.Errorf("no signer key: set SignerKey in the config or export %s", defaultKeyEnv)
	}
	signer, err := ledger.NewKeySigner(key)
	if err != nil {
		return nil, nil, nil, err
	}
	ledgerClient, err := ledger.NewClient(cfg.LedgerURL, signer, ledger.WithAuthToken(cfg.LedgerToken))
	if err != nil {
		return nil, nil, nil, err
	}
	client, err := escrow.NewClient(ledgerClient, ledgerClient.Address())
	if err != nil {
		return nil, nil, nil, err
	}
	timeout := 2 * time.Minute
	if raw := strings.TrimSpace(cfg.Timeout); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parse Timeout: %w", err)
		}
		timeout = parsed
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return client, ctx, cancel, nil
}

func commandFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.String("config", defaultConfig, "Path to the batchctl config file")
	return fs
}

func runCreate(args []string) error {
	fs := commandFlags("create")
	seller := fs.String("seller", "", "Seller address")
	batch := fs.String("batch", "", "Batch identifier")
	amount := fs.String("amount", "", "Amount in smallest units")
	days := fs.Uint("days", 30, "Confirmation period in days")
	fs.Parse(args)

	value, ok := new(big.Int).SetString(strings.TrimSpace(*amount), 10)
	if !ok {
		return fmt.Errorf("amount must be a decimal integer")
	}
	client, ctx, cancel, err := newClient(fs)
	if err != nil {
		return err
	}
	defer cancel()
	result, err := client.CreateEscrow(ctx, *seller, *batch, value, uint32(*days))
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"escrowId": result.EscrowID,
		"txHash":   result.TxHash,
	})
}

func runConfirm(args []string) error {
	return runTransition("confirm", args, func(ctx context.Context, client *escrow.Client, id uint64) (string, error) {
		return client.ConfirmDelivery(ctx, id)
	})
}

func runResolve(args []string) error {
	return runTransition("resolve", args, func(ctx context.Context, client *escrow.Client, id uint64) (string, error) {
		return client.ResolveDispute(ctx, id)
	})
}

func runClaim(args []string) error {
	return runTransition("claim", args, func(ctx context.Context, client *escrow.Client, id uint64) (string, error) {
		return client.ClaimExpiredFunds(ctx, id)
	})
}

func runTransition(name string, args []string, fn func(context.Context, *escrow.Client, uint64) (string, error)) error {
	fs := commandFlags(name)
	id := fs.Uint64("id", 0, "Escrow identifier")
	fs.Parse(args)

	client, ctx, cancel, err := newClient(fs)
	if err != nil {
		return err
	}
	defer cancel()
	txHash, err := fn(ctx, client, *id)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"txHash": txHash})
}

func runDispute(args []string) error {
	fs := commandFlags("dispute")
	id := fs.Uint64("id", 0, "Escrow identifier")
	evidence := fs.String("evidence", "", "Evidence content hash")
	fs.Parse(args)

	client, ctx, cancel, err := newClient(fs)
	if err != nil {
		return err
	}
	defer cancel()
	txHash, err := client.InitiateDispute(ctx, *id, *evidence)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"txHash": txHash})
}

func runVote(args []string) error {
	fs := commandFlags("vote")
	id := fs.Uint64("id", 0, "Escrow identifier")
	side := fs.String("for", "", "Ballot side: buyer or seller")
	fs.Parse(args)

	vote, err := escrow.ParseVote(*side)
	if err != nil {
		return fmt.Errorf("-for must be buyer or seller")
	}
	client, ctx, cancel, err := newClient(fs)
	if err != nil {
		return err
	}
	defer cancel()
	txHash, err := client.VoteOnDispute(ctx, *id, vote)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"txHash": txHash})
}

func runShow(args []string) error {
	fs := commandFlags("show")
	id := fs.Uint64("id", 0, "Escrow identifier")
	fs.Parse(args)

	client, ctx, cancel, err := newClient(fs)
	if err != nil {
		return err
	}
	defer cancel()
	tx, found, err := client.Escrow(ctx, *id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("escrow %d not found", *id)
	}
	display := escrow.FormatTransaction(tx, time.Now())
	return printJSON(map[string]interface{}{
		"escrowId":        display.EscrowID,
		"buyer":           display.Buyer,
		"seller":          display.Seller,
		"batchId":         display.BatchID,
		"amount":          display.Amount,
		"status":          display.Status,
		"createdAt":       display.CreatedAt.Format(time.RFC3339),
		"confirmDeadline": display.ConfirmDeadline.Format(time.RFC3339),
		"disputed":        display.Disputed,
		"isExpired":       display.IsExpired,
		"canConfirm":      display.CanConfirm,
		"canDispute":      display.CanDispute,
		"canClaimExpired": display.CanClaimExpired,
	})
}

func runList(args []string) error {
	fs := commandFlags("list")
	buyer := fs.String("buyer", "", "Buyer address")
	seller := fs.String("seller", "", "Seller address")
	fs.Parse(args)

	if (*buyer == "") == (*seller == "") {
		return fmt.Errorf("exactly one of -buyer or -seller is required")
	}
	client, ctx, cancel, err := newClient(fs)
	if err != nil {
		return err
	}
	defer cancel()
	var ids []uint64
	if *buyer != "" {
		ids, err = client.EscrowsByBuyer(ctx, *buyer)
	} else {
		ids, err = client.EscrowsBySeller(ctx, *seller)
	}
	if err != nil {
		return err
	}
	return printJSON(map[string][]uint64{"ids": ids})
}

func runVotes(args []string) error {
	fs := commandFlags("votes")
	id := fs.Uint64("id", 0, "Escrow identifier")
	fs.Parse(args)

	client, ctx, cancel, err := newClient(fs)
	if err != nil {
		return err
	}
	defer cancel()
	votes, err := client.DisputeVotes(ctx, *id)
	if err != nil {
		return err
	}
	type ballot struct {
		Arbitrator string `json:"arbitrator"`
		Vote       string `json:"vote"`
		Timestamp  string `json:"timestamp"`
	}
	out := make([]ballot, 0, len(votes))
	for _, vote := range votes {
		out = append(out, ballot{
			Arbitrator: vote.Arbitrator,
			Vote:       vote.Vote.String(),
			Timestamp:  time.Unix(vote.Timestamp, 0).UTC().Format(time.RFC3339),
		})
	}
	return printJSON(map[string]interface{}{"votes": out})
}

func runFee(args []string) error {
	fs := commandFlags("fee")
	price := fs.String("price", "", "Product price in smallest units")
	fs.Parse(args)

	value, ok := new(big.Int).SetString(strings.TrimSpace(*price), 10)
	if !ok {
		return fmt.Errorf("price must be a decimal integer")
	}
	client, ctx, cancel, err := newClient(fs)
	if err != nil {
		return err
	}
	defer cancel()
	cost, err := client.TransactionCost(ctx, value)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"productPrice":   cost.ProductPrice.String(),
		"arbitrationFee": cost.ArbitrationFee.String(),
		"totalCost":      cost.TotalCost.String(),
		"estimated":      strconv.FormatBool(cost.Estimated),
	})
}

func runCount(args []string) error {
	fs := commandFlags("count")
	fs.Parse(args)

	client, ctx, cancel, err := newClient(fs)
	if err != nil {
		return err
	}
	defer cancel()
	count, err := client.TotalEscrows(ctx)
	if err != nil {
		return err
	}
	return printJSON(map[string]uint64{"count": count})
}

func printJSON(payload interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
