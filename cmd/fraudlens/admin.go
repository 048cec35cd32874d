package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	flnats "github.com/fraudlens/fraudlens/internal/adapter/nats"
	"github.com/fraudlens/fraudlens/internal/adapter/pipeline"
	"github.com/fraudlens/fraudlens/internal/config"
	"github.com/fraudlens/fraudlens/internal/domain/hitl"
	"github.com/fraudlens/fraudlens/internal/domain/transaction"
	"github.com/fraudlens/fraudlens/internal/domain/view"
	"github.com/fraudlens/fraudlens/internal/port/messagequeue"
	"github.com/fraudlens/fraudlens/internal/resilience"
)

// runAdmin dispatches admin subcommands against a running fraudlens instance.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "submit":
		return runAdminSubmit(args[1:])
	case "pending":
		return runAdminPending(args[1:])
	case "review":
		return runAdminReview(args[1:])
	case "show":
		return runAdminShow(args[1:])
	case "history":
		return runAdminHistory(args[1:])
	case "watch":
		return runAdminWatch(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: fraudlens admin <command> [options]

Commands:
  submit     Submit a transaction for analysis
  pending    List transactions awaiting human review
  review     Apply a human decision to an escalated transaction
  show       Show the full decision record for a transaction
  history    List recently analyzed transactions
  watch      Tail the fraud event stream from NATS
  help       Show this help message

Examples:
  fraudlens admin submit --id txn_001 --customer cus_001 --amount 950 --currency ARS --country BR --device dev_new
  fraudlens admin submit --file txn.json
  fraudlens admin pending
  fraudlens admin review --id txn_001 --decision BLOCK --notes "card reported stolen"
  fraudlens admin show --id txn_001
  fraudlens admin history --limit 20
  fraudlens admin watch --subject "fraud.>"
`)
}

// newAdminClient builds the query client from config, with the circuit
// breaker attached the same way the server wires its outbound calls.
func newAdminClient() (*pipeline.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	client := pipeline.NewClient(pipeline.Config{
		BaseURL: cfg.Pipeline.BaseURL,
		Timeout: cfg.Pipeline.Timeout,
	})
	client.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	return client, nil
}

func runAdminSubmit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	file := fs.String("file", "", "read the transaction request from a JSON file instead of flags")
	id := fs.String("id", "", "transaction ID")
	customer := fs.String("customer", "", "customer ID")
	amount := fs.Float64("amount", 0, "transaction amount")
	currency := fs.String("currency", "ARS", "currency code")
	country := fs.String("country", "AR", "country code")
	channel := fs.String("channel", "web", "transaction channel")
	device := fs.String("device", "", "device ID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var req transaction.Request
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			return fmt.Errorf("read %s: %w", *file, err)
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("parse %s: %w", *file, err)
		}
	} else {
		if *id == "" {
			return fmt.Errorf("--id is required")
		}
		if *customer == "" {
			return fmt.Errorf("--customer is required")
		}
		req = transaction.Request{
			TransactionID: *id,
			CustomerID:    *customer,
			Amount:        *amount,
			Currency:      *currency,
			Country:       *country,
			Channel:       *channel,
			DeviceID:      *device,
		}
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	client, err := newAdminClient()
	if err != nil {
		return err
	}

	rec, err := client.SubmitForAnalysis(context.Background(), req)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Analyzed %s: decision=%s need_human_review=%t\n",
		rec.TransactionID, rec.Decision.Value, rec.NeedHumanReview)
	return printRecord(rec)
}

func runAdminPending(args []string) error {
	fs := flag.NewFlagSet("pending", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newAdminClient()
	if err != nil {
		return err
	}

	queue, err := client.ListPendingReviews(context.Background())
	if err != nil {
		return fmt.Errorf("pending: %w", err)
	}

	stats := view.SummarizeQueue(queue.QueueLength, queue.PendingTransactions)
	if stats.QueueLength == 0 {
		fmt.Println("No transactions pending review.")
		return nil
	}
	fmt.Printf("Queue: %d pending, escalation rate %d%%\n",
		stats.PendingCount, stats.EscalationRate)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "POSITION\tTRANSACTION_ID")
	for i, id := range queue.PendingTransactions {
		_, _ = fmt.Fprintf(w, "%d\t%s\n", i+1, id)
	}
	return w.Flush()
}

func runAdminReview(args []string) error {
	fs := flag.NewFlagSet("review", flag.ContinueOnError)
	id := fs.String("id", "", "transaction ID (required)")
	decision := fs.String("decision", "", "APPROVE or BLOCK (required)")
	notes := fs.String("notes", "", "reviewer notes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("--id is required")
	}
	if *decision == "" {
		return fmt.Errorf("--decision is required")
	}

	client, err := newAdminClient()
	if err != nil {
		return err
	}

	// Drive the review lifecycle the same way an interactive console would:
	// choose, then confirm, with the query client as the submitter.
	sub := &clientSubmitter{client: client}
	m := hitl.NewMachine(*id, sub)
	if err := m.Choose(transaction.DecisionValue(*decision)); err != nil {
		return fmt.Errorf("review: %w", err)
	}
	m.SetNotes(*notes)
	if err := m.Confirm(context.Background()); err != nil {
		return fmt.Errorf("review: %w", err)
	}

	rec := sub.reviewed
	fmt.Fprintf(os.Stderr, "Reviewed %s: decision=%s decided_by=%s\n",
		rec.TransactionID, rec.LastDecision.Value, rec.LastDecision.DecidedBy)
	return nil
}

// clientSubmitter adapts the query client to the review machine's submitter
// interface, keeping the record returned by the pipeline.
type clientSubmitter struct {
	client   *pipeline.Client
	reviewed *transaction.Record
}

func (s *clientSubmitter) SubmitReview(ctx context.Context, transactionID string, decision transaction.DecisionValue, notes string) error {
	rec, err := s.client.SubmitReview(ctx, transactionID, decision, notes)
	if err != nil {
		return err
	}
	s.reviewed = rec
	return nil
}

func runAdminShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	id := fs.String("id", "", "transaction ID (required)")
	pending := fs.Bool("pending", false, "look up the HITL queue instead of history")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("--id is required")
	}

	client, err := newAdminClient()
	if err != nil {
		return err
	}

	ctx := context.Background()
	var rec *transaction.Record
	if *pending {
		rec, err = client.FetchPendingRecord(ctx, *id)
	} else {
		rec, err = client.FetchHistoricalRecord(ctx, *id)
	}
	if err != nil {
		return fmt.Errorf("show: %w", err)
	}
	return printRecord(rec)
}

func runAdminHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "maximum number of records")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newAdminClient()
	if err != nil {
		return err
	}

	recs, err := client.ListHistory(context.Background(), *limit)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}

	if len(recs) == 0 {
		fmt.Println("No transactions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TRANSACTION_ID\tCUSTOMER\tAMOUNT\tDECISION\tREVIEW\tFINAL")
	for _, rec := range recs {
		badge := view.DecisionBadge(rec.Decision.Value)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.2f %s\t%s (%s)\t%s\t%s\n",
			rec.TransactionID, rec.Request.CustomerID, rec.Request.Amount,
			rec.Request.Currency, rec.Decision.Value, badge.Color,
			view.RecordReviewStatus(rec), view.FinalDecision(rec))
	}
	return w.Flush()
}

func runAdminWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	subject := fs.String("subject", "fraud.>", "subject filter")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue, err := flnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	fmt.Fprintf(os.Stderr, "Watching %s (Ctrl-C to stop)\n", *subject)
	return watchEvents(ctx, queue, *subject, os.Stdout)
}

// watchEvents subscribes to the given subject and prints each event until the
// context is cancelled.
func watchEvents(ctx context.Context, q messagequeue.Queue, subject string, out io.Writer) error {
	cancel, err := q.Subscribe(ctx, subject, func(subject string, data []byte) error {
		_, err := fmt.Fprintf(out, "%s %s\n", subject, data)
		return err
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	defer cancel()

	<-ctx.Done()
	return nil
}

func printRecord(rec *transaction.Record) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
