// Command verify runs the post-publish structural checks against any URL,
// without the rest of the pipeline. Useful for re-checking a post after a
// theme or plugin change.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cadriou/draft-publisher/internal/postcheck"
)

var log = logrus.New()

func main() {
	var printJSON bool

	rootCmd := &cobra.Command{
		Use:           "verify <url>",
		Short:         "Run the published-post structural checks against a URL",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], printJSON)
		},
	}
	rootCmd.Flags().BoolVar(&printJSON, "json", false, "print the check results as JSON")

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("verification failed")
		os.Exit(1)
	}
}

func run(url string, printJSON bool) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetching %s: HTTP %d", url, resp.StatusCode)
	}
	page, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s: %w", url, err)
	}

	result, err := postcheck.Verify(string(page))
	if err != nil {
		return err
	}

	if printJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		for name, ok := range result.Checks {
			log.WithFields(logrus.Fields{"check": name, "ok": ok}).Info("check")
		}
	}

	if !result.Passed {
		return fmt.Errorf("checks failed: %v", result.Failed())
	}
	log.Info("all checks passed")
	return nil
}
