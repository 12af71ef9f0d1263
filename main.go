package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var log = logrus.New()

type cliOptions struct {
	site             string
	brandProfile     string
	publicationsDBID string
	draftStatus      string
	publishedStatus  string
	partialStatus    string
	platformName     string
	sitesConfig      string
	brandProfilesDir string
	pageSize         int
	dryRun           bool
	skipIllustration bool
	printJSON        bool
	logLevel         string
}

func main() {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:   "draft-publisher",
		Short: "Publish the latest draft article from the document store to WordPress",
		Long: `draft-publisher selects the most recently edited draft in the articles
database, renders its markdown to HTML, resolves categories and a lead
illustration, publishes it to the target WordPress site, verifies the
rendered page, and only then writes the new status back to the store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&opts.site, "site", "", "site key, label or alias to publish to (default: the record's target site)")
	flags.StringVar(&opts.brandProfile, "brand-profile", "", "brand profile id overriding the site's configured one")
	flags.StringVar(&opts.publicationsDBID, "publications-db-id", "", "publication log database id (default $MY_PUBLICATIONS_DB_ID)")
	flags.StringVar(&opts.draftStatus, "draft-status", "Draft", "status label that marks publishable drafts")
	flags.StringVar(&opts.publishedStatus, "published-status", "Published", "status label set when all platforms are covered")
	flags.StringVar(&opts.partialStatus, "partially-published-status", "Partially Published", "status label set when required platforms remain")
	flags.StringVar(&opts.platformName, "platform-name", "", "platform name recorded in the store (default from site config)")
	flags.StringVar(&opts.sitesConfig, "sites-config", "", "path to the sites YAML registry (default "+filepath.Join(defaultConfigDir, "sites.yaml")+")")
	flags.StringVar(&opts.brandProfilesDir, "brand-profiles-dir", "brand-profiles", "directory of brand profile JSON files")
	flags.IntVar(&opts.pageSize, "page-size", 25, "database query page size")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "resolve and render without publishing or writing back")
	flags.BoolVar(&opts.skipIllustration, "skip-illustration", false, "publish without a lead illustration")
	flags.BoolVar(&opts.printJSON, "print-json", false, "print the run summary as JSON")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("run failed")
		var pipelineErr *PipelineError
		if errors.As(err, &pipelineErr) {
			os.Exit(pipelineErr.ExitCode())
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *cliOptions) error {
	if level, err := logrus.ParseLevel(opts.logLevel); err == nil {
		log.SetLevel(level)
	}

	cfg, err := buildConfig(opts)
	if err != nil {
		return err
	}

	// An explicitly requested site must fail fast on bad credentials,
	// before any network call.
	if cfg.ExplicitSiteKey != "" {
		_, siteCfg := cfg.Sites.Resolve(cfg.ExplicitSiteKey)
		if _, err := ResolveCredentials(siteCfg); err != nil {
			return wrapPipelineErr(KindConfiguration, "config", err, "resolving site credentials")
		}
	}

	var generator imageGenerator
	if cfg.OpenAIKey != "" {
		generator = openai.NewClient(cfg.OpenAIKey)
	}

	connect := func(siteKey string, siteCfg *SiteConfig) (contentSite, illustrationProvider, error) {
		creds, err := ResolveCredentials(siteCfg)
		if err != nil {
			return nil, nil, err
		}
		site := NewWordPressClient(creds)
		return site, NewIllustrationProvisioner(cfg, generator, site), nil
	}

	store := NewNotionClient(cfg.NotionToken)
	publisher := NewPublisher(cfg, store, connect, log)
	result, err := publisher.Run(ctx)
	if err != nil {
		return err
	}

	if opts.printJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encoding run summary")
		}
		fmt.Println(string(data))
		return nil
	}

	entry := log.WithFields(logrus.Fields{
		"record":   result.RecordID,
		"site":     result.SiteKey,
		"status":   result.StatusSetTo,
		"category": result.CategorySource,
	})
	switch {
	case result.DryRun:
		entry.Info("dry run complete, nothing published")
	default:
		entry.WithField("url", result.PostURL).Info("published")
	}
	for _, warning := range result.Warnings {
		log.Warn(warning)
	}
	return nil
}

// buildConfig assembles the effective configuration from flags and
// environment.
func buildConfig(opts *cliOptions) (*Config, error) {
	token := strings.TrimSpace(os.Getenv("NOTION_TOKEN"))
	if token == "" {
		return nil, pipelineErr(KindConfiguration, "config", "NOTION_TOKEN is not set")
	}
	articlesDB := strings.TrimSpace(os.Getenv("MY_ARTICLES_DB_ID"))
	if articlesDB == "" {
		return nil, pipelineErr(KindConfiguration, "config", "MY_ARTICLES_DB_ID is not set")
	}

	sitesPath := strings.TrimSpace(opts.sitesConfig)
	if sitesPath == "" {
		written, err := ensureConfigExists()
		if err != nil {
			return nil, wrapPipelineErr(KindConfiguration, "config", err, "preparing default config")
		}
		sitesPath = written
	}
	sites, err := LoadSiteRegistry(sitesPath)
	if err != nil {
		return nil, wrapPipelineErr(KindConfiguration, "config", err, "loading site registry")
	}

	explicit := strings.TrimSpace(opts.site)
	if explicit != "" {
		if key, _ := sites.Resolve(explicit); key == "" && len(sites) > 0 {
			return nil, pipelineErr(KindConfiguration, "config",
				"unknown site %q (known sites: %s)", explicit, strings.Join(sites.Keys(), ", "))
		}
	}

	publicationsDB := strings.TrimSpace(opts.publicationsDBID)
	if publicationsDB == "" {
		publicationsDB = strings.TrimSpace(os.Getenv("MY_PUBLICATIONS_DB_ID"))
	}

	imageModel := strings.TrimSpace(os.Getenv("OPENAI_IMAGE_MODEL"))
	if imageModel == "" {
		imageModel = "gpt-image-1"
	}

	return &Config{
		NotionToken:          token,
		ArticlesDBID:         articlesDB,
		PublicationsDBID:     publicationsDB,
		DraftStatusLabel:     opts.draftStatus,
		PublishedStatusLabel: opts.publishedStatus,
		PartialStatusLabel:   opts.partialStatus,
		PageSize:             opts.pageSize,
		Sites:                sites,
		ExplicitSiteKey:      explicit,
		DefaultSiteKey:       strings.TrimSpace(os.Getenv("WP_SITE_KEY")),
		PlatformName:         opts.platformName,
		BrandProfileID:       opts.brandProfile,
		BrandProfilesDir:     opts.brandProfilesDir,
		OpenAIKey:            strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		ImageModel:           imageModel,
		ImageSize:            strings.TrimSpace(os.Getenv("OPENAI_IMAGE_SIZE")),
		ImageQuality:         strings.TrimSpace(os.Getenv("OPENAI_IMAGE_QUALITY")),
		SkipIllustration:     opts.skipIllustration,
		DryRun:               opts.dryRun,
	}, nil
}
