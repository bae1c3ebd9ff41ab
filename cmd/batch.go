package main

import (
	"bufio"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/agentpilot-us/revenue-agents-sub002/internal/batch"
)

var batchFile string

var batchCmd = &cobra.Command{
	Use:   "batch [urls...]",
	Short: "Scrape an explicit list of URLs into the knowledge base",
	Long:  "Scrapes each URL, classifies it, and ingests the result. URLs come from arguments or from a file with one URL per line. Progress events stream to stdout as JSON lines.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		urls := args
		if batchFile != "" {
			fromFile, err := readURLFile(batchFile)
			if err != nil {
				return err
			}
			urls = append(urls, fromFile...)
		}
		if len(urls) == 0 {
			return eris.New("no urls given: pass them as arguments or with --file")
		}

		env, err := initEnv(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		exec := newBatchExecutor(env)
		_, _, err = exec.Execute(ctx, cfg.Owner, urls, batch.NewWriterSink(os.Stdout))
		env.Classifier.Usage().LogCost(cfg.Anthropic.Model, "batch")
		return err
	},
}

// readURLFile reads one URL per line, skipping blanks and # comments.
func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open url file %s", path)
	}
	defer f.Close() //nolint:errcheck

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "read url file %s", path)
	}
	return urls, nil
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "file with one URL per line")
	rootCmd.AddCommand(batchCmd)
}
