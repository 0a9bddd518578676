// Command predictctl publishes requests to the ordering stream and prints
// ledger views served by predictd.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"PredictLedger/internal/ingestion"
	fpmath "PredictLedger/internal/math"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/query"

	"github.com/olekukonko/tablewriter"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: predictctl <command> [flags]")
	fmt.Fprintln(os.Stderr, "  publish      - publish a JSON request (file or stdin) to the request stream")
	fmt.Fprintln(os.Stderr, "  leaderboard  - print the trader and guild rankings")
	fmt.Fprintln(os.Stderr, "  integrity    - print the integrity report")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "publish":
		err = publish(ctx, os.Args[2:])
	case "leaderboard":
		err = leaderboard(ctx, os.Args[2:], os.Stdout)
	case "integrity":
		err = integrity(ctx, os.Args[2:], os.Stdout)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "predictctl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func publish(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	natsURL := fs.String("nats", envOr("PREDICT_NATS_URL", "nats://localhost:4222"), "NATS server URL")
	subject := fs.String("subject", ingestion.DefaultRequestSubject, "request subject prefix")
	file := fs.String("file", "-", "request JSON file, - for stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var r io.Reader = os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	req, err := ingestion.ParseRequest(raw)
	if err != nil {
		return err
	}

	nc, js, err := ingestion.ConnectNATS(*natsURL, observability.NewLogger("predictctl"))
	if err != nil {
		return err
	}
	defer nc.Close()

	pub := ingestion.NewRequestPublisher(js, *subject)
	seq, err := pub.Publish(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("published %s on %s (stream sequence %d)\n", req.RequestID, pub.Subject(req), seq)
	return nil
}

func leaderboard(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("leaderboard", flag.ExitOnError)
	addr := fs.String("addr", envOr("PREDICT_API_URL", "http://localhost:8080"), "predictd HTTP address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var lb query.LeaderboardResponse
	if err := getJSON(ctx, *addr+"/v1/leaderboard", &lb); err != nil {
		return err
	}
	return renderLeaderboard(out, &lb)
}

func renderLeaderboard(out io.Writer, lb *query.LeaderboardResponse) error {
	fmt.Fprintf(out, "Top traders (as of sequence %d)\n", lb.AsOfSequence)
	traders := tablewriter.NewWriter(out)
	traders.Header("#", "Player", "Name", "Profit", "Won", "Win rate", "Level")
	for _, e := range lb.TopTraders {
		if err := traders.Append(
			fmt.Sprintf("%d", e.Rank),
			e.PlayerID.String(),
			e.DisplayName,
			fpmath.TokenConfig.Format(e.TotalProfit),
			fmt.Sprintf("%d", e.MarketsWon),
			fmt.Sprintf("%d.%02d%%", e.WinRateBps/100, e.WinRateBps%100),
			fmt.Sprintf("%d", e.Level),
		); err != nil {
			return err
		}
	}
	if err := traders.Render(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nTop guilds")
	guilds := tablewriter.NewWriter(out)
	guilds.Header("#", "Guild", "Name", "Pool", "Members", "Profit")
	for _, e := range lb.TopGuilds {
		if err := guilds.Append(
			fmt.Sprintf("%d", e.Rank),
			fmt.Sprintf("%d", e.GuildID),
			e.Name,
			fpmath.TokenConfig.Format(e.Pool),
			fmt.Sprintf("%d", e.MemberCount),
			fpmath.TokenConfig.Format(e.TotalProfit),
		); err != nil {
			return err
		}
	}
	return guilds.Render()
}

func integrity(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("integrity", flag.ExitOnError)
	addr := fs.String("addr", envOr("PREDICT_API_URL", "http://localhost:8080"), "predictd HTTP address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var report query.IntegrityReport
	if err := getJSON(ctx, *addr+"/v1/admin/integrity", &report); err != nil {
		return err
	}
	table := tablewriter.NewWriter(out)
	table.Header("Check", "Result")
	rows := [][]string{
		{"healthy", fmt.Sprintf("%t", report.IsHealthy)},
		{"sequence", fmt.Sprintf("%d", report.Sequence)},
		{"hash chain breaks", fmt.Sprintf("%v", report.HashChainBreaks)},
		{"zero-sum", orOK(report.BalanceError)},
		{"conservation", orOK(report.ConservationError)},
		{"projection drift", fpmath.TokenConfig.Format(report.ProjectionDrift)},
	}
	for _, r := range rows {
		if err := table.Append(r[0], r[1]); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	if !report.IsHealthy {
		return fmt.Errorf("ledger unhealthy at sequence %d", report.Sequence)
	}
	return nil
}

func getJSON(ctx context.Context, url string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("GET %s: %s: %s", url, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func orOK(s string) string {
	if s == "" {
		return "ok"
	}
	return s
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
