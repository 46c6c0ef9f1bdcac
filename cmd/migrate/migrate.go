package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"financerag/internal/app"
	"financerag/internal/auth"
	"financerag/internal/config"
	"financerag/internal/logger"
	"financerag/models"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Administrative commands for the financial RAG service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var indexesCmd = &cobra.Command{
	Use:   "indexes",
	Short: "Create the MongoDB indexes",
	Args:  cobra.NoArgs,
	RunE:  runIndexes,
}

var rebuildIndexCmd = &cobra.Command{
	Use:   "rebuild-index [company-id]",
	Short: "Rebuild a company's vector index from stored chunks",
	Long:  `Re-embeds every completed document of the company with its current model into a fresh index generation.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRebuildIndex,
}

var reembedCmd = &cobra.Command{
	Use:   "reembed [company-id]",
	Short: "Re-embed companies with another embedding model",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReembed,
}

var issueTokenCmd = &cobra.Command{
	Use:   "issue-admin-token",
	Short: "Print an admin token for privileged settings changes",
	Args:  cobra.NoArgs,
	RunE:  runIssueToken,
}

var (
	allCompanies bool
	reembedModel string
	tokenSubject string
)

func init() {
	rebuildIndexCmd.Flags().BoolVar(&allCompanies, "all", false, "Rebuild every active company")
	reembedCmd.Flags().BoolVar(&allCompanies, "all", false, "Re-embed every active company")
	reembedCmd.Flags().StringVarP(&reembedModel, "model", "m", "", "Embedding model as provider:model")
	_ = reembedCmd.MarkFlagRequired("model")
	issueTokenCmd.Flags().StringVarP(&tokenSubject, "subject", "s", "ops", "Who the token is issued to")

	rootCmd.AddCommand(indexesCmd, rebuildIndexCmd, reembedCmd, issueTokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger.InitLogger(cfg.GinMode)
	if cfg.MemoryStore {
		return nil, errors.New("this command needs MongoDB; unset MEMORY_STORE")
	}
	return cfg, nil
}

func runIndexes(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := config.ConnectMongoDB(cfg)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	fmt.Fprintf(cmd.OutOrStdout(), "Indexes are in place on %s\n", cfg.DBName)
	return nil
}

func runRebuildIndex(cmd *cobra.Command, args []string) error {
	return forCompanies(cmd, args, func(ctx context.Context, a *app.App, c *models.Company) error {
		model := c.EmbeddingModel
		if model == "" {
			st, err := a.Settings.Current(ctx)
			if err != nil {
				return err
			}
			model = st.EmbeddingProvider + ":" + st.EmbeddingModel
		}
		return a.Registry.Reembed(ctx, c.ID, model)
	})
}

func runReembed(cmd *cobra.Command, args []string) error {
	return forCompanies(cmd, args, func(ctx context.Context, a *app.App, c *models.Company) error {
		if c.EmbeddingModel == reembedModel {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s already uses %s\n", c.Name, reembedModel)
			return nil
		}
		return a.Registry.Reembed(ctx, c.ID, reembedModel)
	})
}

// forCompanies runs fn synchronously for the named company, or for every
// active company with --all.
func forCompanies(cmd *cobra.Command, args []string, fn func(context.Context, *app.App, *models.Company) error) error {
	if allCompanies == (len(args) == 1) {
		return errors.New("pass exactly one of a company id or --all")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var targets []models.Company
	if allCompanies {
		if targets, err = a.Registry.ListCompanies(ctx); err != nil {
			return err
		}
	} else {
		c, err := a.Registry.GetCompany(ctx, args[0])
		if err != nil {
			return err
		}
		targets = []models.Company{*c}
	}

	failed := 0
	for i := range targets {
		c := &targets[i]
		if c.Status != models.CompanyActive {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s skipped (%s)\n", c.Name, c.Status)
			continue
		}
		start := time.Now()
		if err := fn(ctx, a, c); err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "  %s failed: %v\n", c.Name, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %s done in %s\n", c.Name, time.Since(start).Round(time.Millisecond))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d companies failed", failed, len(targets))
	}
	return nil
}

func runIssueToken(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.AdminTokenTTL, nil)
	if err != nil {
		return err
	}
	token, exp, err := issuer.IssueAdminToken(tokenSubject)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.UTC().Format(time.RFC3339))
	return nil
}
