package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/agentpilot-us/revenue-agents-sub002/internal/model"
)

var (
	importIndustry    string
	importAutoApprove bool
)

var importCmd = &cobra.Command{
	Use:   "import <url>",
	Short: "Import a company website into the knowledge base",
	Long:  "Starts a crawl of the given site, polls it to completion, classifies the relevant pages, and writes knowledge entries. Prints a job summary when the run finishes.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		orch := newImporter(env, importAutoApprove)

		job, err := orch.Start(ctx, args[0], importIndustry)
		if err != nil {
			return err
		}

		final, err := orch.Run(ctx, job.ID)
		if err != nil {
			return err
		}

		zap.L().Info("import finished",
			zap.String("job_id", final.ID),
			zap.String("status", string(final.Status)),
		)
		env.Classifier.Usage().LogCost(cfg.Anthropic.Model, "import")

		out, err := yaml.Marshal(summarizeJob(final))
		if err != nil {
			return eris.Wrap(err, "marshal job summary")
		}
		if _, err := os.Stdout.Write(out); err != nil {
			return eris.Wrap(err, "write job summary")
		}

		if final.Status == model.JobStatusFailed {
			return eris.Errorf("import failed at step %s", final.Errors.Step)
		}
		return nil
	},
}

// jobSummary is the YAML shape printed after an import run.
type jobSummary struct {
	JobID            string   `yaml:"job_id"`
	SourceURL        string   `yaml:"source_url"`
	Industry         string   `yaml:"industry,omitempty"`
	Status           string   `yaml:"status"`
	TotalPages       int      `yaml:"total_pages"`
	ScrapedPages     int      `yaml:"scraped_pages"`
	CategorizedPages int      `yaml:"categorized_pages"`
	ApprovedCount    int      `yaml:"approved_count"`
	RejectedCount    int      `yaml:"rejected_count"`
	FailedStep       string   `yaml:"failed_step,omitempty"`
	FailedError      string   `yaml:"failed_error,omitempty"`
	Pages            []string `yaml:"pages,omitempty"`
}

func summarizeJob(job *model.ImportJob) jobSummary {
	s := jobSummary{
		JobID:            job.ID,
		SourceURL:        job.SourceURL,
		Industry:         job.Industry,
		Status:           string(job.Status),
		TotalPages:       job.TotalPages,
		ScrapedPages:     job.ScrapedPages,
		CategorizedPages: job.CategorizedPages,
		ApprovedCount:    job.ApprovedCount,
		RejectedCount:    job.RejectedCount,
	}
	if job.Errors != nil {
		s.FailedStep = job.Errors.Step
		s.FailedError = job.Errors.Error
	}
	for _, item := range job.CategorizedContent {
		s.Pages = append(s.Pages, item.URL)
	}
	return s
}

func init() {
	importCmd.Flags().StringVar(&importIndustry, "industry", "", "industry filter for relevance scoring")
	importCmd.Flags().BoolVar(&importAutoApprove, "auto-approve", false, "finalize the job as approved instead of review_pending")
	rootCmd.AddCommand(importCmd)
}
