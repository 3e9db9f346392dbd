package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	redcapped "github.com/AppSpaceIT/RedCapped"
	"github.com/AppSpaceIT/RedCapped/contracts"
	"github.com/AppSpaceIT/RedCapped/messaging"
)

func main() {
	logger := newLogger()
	slog.SetDefault(logger)

	rootCmd := &cobra.Command{
		Use:   "redcapped",
		Short: "redcapped queue CLI",
		Long:  "Inspect and operate redcapped queues: publish, peek, stats and dead-letter management.",
	}
	rootCmd.PersistentFlags().String("data-dir", defaultDataDir(), "Pebble data directory")
	rootCmd.PersistentFlags().String("redis", os.Getenv("REDCAPPED_REDIS"), "Redis address; uses the Redis backend instead of Pebble")
	rootCmd.PersistentFlags().String("queue", "default", "Queue name")

	// stats
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show entry counts for the queue and its dead-letter log",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := openQueue(cmd)
			if err != nil {
				return err
			}
			defer queue.Close()

			ctx := cmd.Context()
			logStats, err := queue.Log().Stats(ctx)
			if err != nil {
				return err
			}
			dlqStats, err := queue.DeadLetter().Stats(ctx)
			if err != nil {
				return err
			}
			return printJSON(map[string]messaging.Stats{
				"log":        logStats,
				"deadLetter": dlqStats,
			})
		},
	}
	rootCmd.AddCommand(statsCmd)

	// publish
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Append a message to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, _ := cmd.Flags().GetString("topic")
			schemaTag, _ := cmd.Flags().GetString("type")
			body, _ := cmd.Flags().GetString("body")
			qosFlag, _ := cmd.Flags().GetString("qos")
			retryLimit, _ := cmd.Flags().GetInt("retry-limit")

			if topic == "" {
				return contracts.ErrEmptyTopic
			}
			if schemaTag == "" {
				return contracts.ErrEmptySchemaTag
			}
			if retryLimit < 1 {
				return fmt.Errorf("%w: got %d", contracts.ErrInvalidRetryLimit, retryLimit)
			}
			qos, err := contracts.ParseQoS(qosFlag)
			if err != nil {
				return err
			}
			if !json.Valid([]byte(body)) {
				return fmt.Errorf("--body must be valid JSON")
			}

			queue, err := openQueue(cmd)
			if err != nil {
				return err
			}
			defer queue.Close()

			env := &contracts.Envelope{
				ID:    uuid.New().String(),
				Topic: topic,
				Header: contracts.Header{
					SchemaTag:  schemaTag,
					QoS:        qos,
					SentAt:     time.Now().UTC(),
					RetryLimit: retryLimit,
				},
				Body: json.RawMessage(body),
			}
			if err := queue.Log().Append(cmd.Context(), env, qos); err != nil {
				return err
			}
			fmt.Println(env.ID)
			return nil
		},
	}
	publishCmd.Flags().String("topic", "", "Destination topic")
	publishCmd.Flags().String("type", "", "Schema tag for the payload")
	publishCmd.Flags().String("body", "{}", "Payload as JSON")
	publishCmd.Flags().String("qos", "normal", "Durability: normal|atLeastOne|majority")
	publishCmd.Flags().Int("retry-limit", messaging.DefaultRetryLimit, "Retry budget (>= 1)")
	rootCmd.AddCommand(publishCmd)

	// peek
	peekCmd := &cobra.Command{
		Use:   "peek",
		Short: "List envelopes in the queue without claiming them",
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, _ := cmd.Flags().GetString("topic")
			schemaTag, _ := cmd.Flags().GetString("type")
			unclaimed, _ := cmd.Flags().GetBool("unclaimed")
			cursor, _ := cmd.Flags().GetString("cursor")
			limit, _ := cmd.Flags().GetInt("limit")

			queue, err := openQueue(cmd)
			if err != nil {
				return err
			}
			defer queue.Close()

			filter := messaging.Filter{
				Topic:         topic,
				SchemaTag:     schemaTag,
				UnclaimedOnly: unclaimed,
			}
			return printScan(cmd.Context(), queue.Log(), filter, cursor, limit)
		},
	}
	peekCmd.Flags().String("topic", "", "Filter by topic")
	peekCmd.Flags().String("type", "", "Filter by schema tag")
	peekCmd.Flags().Bool("unclaimed", false, "Only unclaimed envelopes")
	peekCmd.Flags().String("cursor", "", "Resume from a previous scan cursor")
	peekCmd.Flags().Int("limit", 20, "Maximum envelopes to list")
	rootCmd.AddCommand(peekCmd)

	// dlq
	dlqCmd := &cobra.Command{Use: "dlq", Short: "Dead-letter log operations"}
	dlqListCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered envelopes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cursor, _ := cmd.Flags().GetString("cursor")
			limit, _ := cmd.Flags().GetInt("limit")

			queue, err := openQueue(cmd)
			if err != nil {
				return err
			}
			defer queue.Close()

			return printScan(cmd.Context(), queue.DeadLetter(), messaging.Filter{}, cursor, limit)
		},
	}
	dlqListCmd.Flags().String("cursor", "", "Resume from a previous scan cursor")
	dlqListCmd.Flags().Int("limit", 20, "Maximum envelopes to list")
	dlqCmd.AddCommand(dlqListCmd)

	dlqReplayCmd := &cobra.Command{
		Use:   "replay <envelope-id>",
		Short: "Republish a dead-lettered envelope to the queue with a fresh retry budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := openQueue(cmd)
			if err != nil {
				return err
			}
			defer queue.Close()

			return replayDeadLetter(cmd.Context(), queue, args[0])
		},
	}
	dlqCmd.AddCommand(dlqReplayCmd)
	rootCmd.AddCommand(dlqCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("REDCAPPED_LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func defaultDataDir() string {
	if v := os.Getenv("REDCAPPED_DATA_DIR"); v != "" {
		return v
	}
	return "./data"
}

func openQueue(cmd *cobra.Command) (*redcapped.Queue, error) {
	name, _ := cmd.Flags().GetString("queue")
	if addr, _ := cmd.Flags().GetString("redis"); addr != "" {
		return redcapped.OpenRedisQueue(addr, name)
	}
	dataDir, _ := cmd.Flags().GetString("data-dir")
	return redcapped.OpenQueue(dataDir, name)
}

func printScan(ctx context.Context, store messaging.Store, filter messaging.Filter, cursor string, limit int) error {
	records, next, err := store.Scan(ctx, filter, cursor, limit)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := printJSON(rec.Envelope); err != nil {
			return err
		}
	}
	if len(records) > 0 {
		fmt.Fprintf(os.Stderr, "cursor: %s\n", next)
	}
	return nil
}

// replayDeadLetter copies a dead-lettered envelope back onto the main log as
// a new message: fresh id, cleared claim, retry count reset to zero.
func replayDeadLetter(ctx context.Context, queue *redcapped.Queue, id string) error {
	cursor := ""
	for {
		records, next, err := queue.DeadLetter().Scan(ctx, messaging.Filter{}, cursor, 64)
		if err != nil {
			return err
		}
		if len(records) == 0 && next == cursor {
			return fmt.Errorf("envelope %s not found in dead-letter log", id)
		}
		for _, rec := range records {
			if rec.Envelope.ID != id {
				continue
			}
			env := rec.Envelope.Clone()
			env.ID = uuid.New().String()
			env.Header.SentAt = time.Now().UTC()
			env.Header.AcknowledgedAt = nil
			env.Header.RetryCount = 0
			if err := queue.Log().Append(ctx, env, env.Header.QoS); err != nil {
				return err
			}
			fmt.Println(env.ID)
			return nil
		}
		cursor = next
	}
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
