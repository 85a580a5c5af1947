package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tweetgrab/internal/config"
	"github.com/xkilldash9x/tweetgrab/internal/observability"
	"github.com/xkilldash9x/tweetgrab/internal/post"
	"github.com/xkilldash9x/tweetgrab/internal/repost"
	"github.com/xkilldash9x/tweetgrab/internal/store"
)

var planJSON = jsoniter.Config{EscapeHTML: false, IndentionStep: 2}.Froze()

// historyStore is the part of the store the plan command needs.
type historyStore interface {
	EnsureSchema(ctx context.Context) error
	Recent(ctx context.Context, limit int) ([]string, error)
	Record(ctx context.Context, e store.Entry) (store.Entry, error)
}

// storeFactory opens the history store. Replaced in tests.
var storeFactory = func(ctx context.Context, url string, logger *zap.Logger) (historyStore, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

func newPlanCmd() *cobra.Command {
	var record bool

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Prepares a repost plan from the last captured payload",
		Long: `Reads the artifact written by fetch and prints the repost plan: cleaned and
truncated text, link and hashtag facets, images with dimensions, and whether
the post is recent and new. With a database configured, the duplicate check
uses the recorded history and --record appends postable posts to it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return runPlan(cmd.Context(), cmd.OutOrStdout(), cfg, record, observability.GetLogger())
		},
	}

	planCmd.Flags().String("artifact", "latest_tweet.json", "payload file written by fetch")
	planCmd.Flags().Int("history", 5, "number of recorded posts checked for duplicates")
	planCmd.Flags().BoolVar(&record, "record", false, "record the post in the history when postable")
	return planCmd
}

func runPlan(ctx context.Context, out io.Writer, cfg *config.Config, record bool, logger *zap.Logger) error {
	data, err := os.ReadFile(cfg.Output.Artifact)
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}
	res, err := post.ParseResult(data)
	if err != nil {
		return err
	}

	var hist historyStore
	if cfg.Database.URL != "" {
		s, closeFn, err := storeFactory(ctx, cfg.Database.URL, logger)
		if err != nil {
			return err
		}
		defer closeFn()
		if err := s.EnsureSchema(ctx); err != nil {
			return err
		}
		hist = s
	} else if record {
		return fmt.Errorf("--record needs database.url")
	}

	opts := planOptions(cfg)
	if hist != nil {
		if opts.History, err = hist.Recent(ctx, cfg.Repost.HistorySize); err != nil {
			return err
		}
	}

	plan, err := repost.Build(res, opts, logger)
	if err != nil {
		return err
	}

	if record && plan.Postable {
		e, err := hist.Record(ctx, store.Entry{
			Profile:    cfg.Fetch.Profile,
			SourceTime: plan.Time,
			Text:       plan.FullText,
		})
		if err != nil {
			return err
		}
		logger.Info("Post recorded in history.", zap.String("id", e.ID))
	}

	enc, err := planJSON.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	_, err = fmt.Fprintln(out, string(enc))
	return err
}

func planOptions(cfg *config.Config) repost.Options {
	rules := make([]repost.Rule, 0, len(cfg.Repost.Fallbacks))
	for _, r := range cfg.Repost.Fallbacks {
		rules = append(rules, repost.Rule{Keyword: r.Keyword, Image: r.Image})
	}
	return repost.Options{
		MaxAge:          cfg.Repost.MaxAge,
		MaxBytes:        cfg.Repost.MaxBytes,
		DefaultAlt:      cfg.Repost.DefaultAlt,
		ImagePath:       mediaConfig(cfg).FileName,
		FallbackDir:     cfg.Repost.FallbackDir,
		DefaultFallback: cfg.Repost.DefaultFallback,
		Fallbacks:       rules,
	}
}
