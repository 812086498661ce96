package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"student-polling-backend/models"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type voteLoad struct {
	BaseURL     string
	PollID      string
	OptionIDs   []string
	Voters      int
	Repeat      int
	Concurrency int
}

type loadReport struct {
	Requests  int
	ByStatus  map[int]int
	Errors    int
	Duration  time.Duration
	Latencies []time.Duration
}

func (r loadReport) percentile(p float64) time.Duration {
	if len(r.Latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), r.Latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func voteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vote",
		Short: "Cast votes from many concurrent voters and verify the tally",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("url")
			pollID, _ := cmd.Flags().GetString("poll")
			options, _ := cmd.Flags().GetStringSlice("options")
			voters, _ := cmd.Flags().GetInt("voters")
			repeat, _ := cmd.Flags().GetInt("repeat")
			concurrency, _ := cmd.Flags().GetInt("concurrency")

			load := voteLoad{
				BaseURL:     strings.TrimRight(baseURL, "/"),
				PollID:      pollID,
				OptionIDs:   options,
				Voters:      voters,
				Repeat:      repeat,
				Concurrency: concurrency,
			}
			client := &http.Client{Timeout: 10 * time.Second}

			before, err := fetchResults(cmd.Context(), client, load.BaseURL, pollID)
			if err != nil {
				return err
			}
			report, err := runVoteLoad(cmd.Context(), client, load)
			if err != nil {
				return err
			}
			after, err := fetchResults(cmd.Context(), client, load.BaseURL, pollID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "requests:   %d in %s\n", report.Requests, report.Duration.Round(time.Millisecond))
			for _, code := range sortedKeys(report.ByStatus) {
				fmt.Fprintf(out, "  HTTP %d:  %d\n", code, report.ByStatus[code])
			}
			fmt.Fprintf(out, "  errors:    %d\n", report.Errors)
			fmt.Fprintf(out, "latency:    p50=%s p95=%s p99=%s\n", report.percentile(0.5), report.percentile(0.95), report.percentile(0.99))

			accepted := int64(report.ByStatus[http.StatusOK])
			fmt.Fprintf(out, "tally:      %d -> %d (accepted %d)\n", before.TotalVotes, after.TotalVotes, accepted)
			var sum int64
			for _, o := range after.Options {
				sum += o.Votes
			}
			if sum != after.TotalVotes {
				return fmt.Errorf("inconsistent tally: options sum to %d, total is %d", sum, after.TotalVotes)
			}
			if after.TotalVotes-before.TotalVotes < accepted {
				return fmt.Errorf("lost votes: %d accepted but total grew by %d", accepted, after.TotalVotes-before.TotalVotes)
			}
			return nil
		},
	}

	cmd.Flags().StringP("poll", "p", "", "Poll ID to vote on")
	cmd.Flags().StringSliceP("options", "o", []string{"option_1", "option_2"}, "Option IDs to spread votes over")
	cmd.Flags().IntP("voters", "n", 100, "Number of distinct voters")
	cmd.Flags().IntP("repeat", "r", 1, "Votes attempted per voter; extra attempts should be rejected")
	cmd.Flags().IntP("concurrency", "c", 20, "Concurrent requests")
	_ = cmd.MarkFlagRequired("poll")
	return cmd
}

func resultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results [poll-id]",
		Short: "Print the current results of a poll",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("url")
			res, err := fetchResults(cmd.Context(), &http.Client{Timeout: 10 * time.Second}, strings.TrimRight(baseURL, "/"), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s) total=%d\n", res.Title, res.Status, res.TotalVotes)
			for _, o := range res.Options {
				fmt.Fprintf(out, "  %-10s %-30s %6d %6.2f%%\n", o.ID, o.Text, o.Votes, o.Percentage)
			}
			return nil
		},
	}
	return cmd
}

// runVoteLoad sends Voters*Repeat vote requests with bounded concurrency.
func runVoteLoad(ctx context.Context, client *http.Client, load voteLoad) (loadReport, error) {
	if load.Voters <= 0 || load.Concurrency <= 0 || len(load.OptionIDs) == 0 {
		return loadReport{}, fmt.Errorf("voters, concurrency and options must be positive")
	}
	if load.Repeat <= 0 {
		load.Repeat = 1
	}

	type job struct {
		voter  string
		option string
	}
	jobs := make(chan job)
	var (
		mu     sync.Mutex
		report = loadReport{ByStatus: make(map[int]int)}
		wg     sync.WaitGroup
	)

	url := fmt.Sprintf("%s/api/polls/%s/vote", load.BaseURL, load.PollID)
	start := time.Now()
	for w := 0; w < load.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				body, _ := json.Marshal(map[string]string{"voter_id": j.voter, "option_id": j.option})
				t0 := time.Now()
				status, err := post(ctx, client, url, body)
				elapsed := time.Since(t0)

				mu.Lock()
				report.Requests++
				report.Latencies = append(report.Latencies, elapsed)
				if err != nil {
					report.Errors++
				} else {
					report.ByStatus[status]++
				}
				mu.Unlock()
			}
		}()
	}

	runID := uuid.NewString()[:8]
	for r := 0; r < load.Repeat; r++ {
		for v := 0; v < load.Voters; v++ {
			select {
			case <-ctx.Done():
				close(jobs)
				wg.Wait()
				return report, ctx.Err()
			case jobs <- job{
				voter:  fmt.Sprintf("load-%s-%d", runID, v),
				option: load.OptionIDs[(v+r)%len(load.OptionIDs)],
			}:
			}
		}
	}
	close(jobs)
	wg.Wait()
	report.Duration = time.Since(start)
	return report, nil
}

func post(ctx context.Context, client *http.Client, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func fetchResults(ctx context.Context, client *http.Client, baseURL, pollID string) (*models.PollResults, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/polls/%s/results", baseURL, pollID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("results for %s: HTTP %d", pollID, resp.StatusCode)
	}
	var res models.PollResults
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
