package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

func (c *cli) ingestCommand() *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Add or replace documents in the corpus",
		Long: `Extracts, chunks and indexes each file. Re-ingesting a filename with new
content creates a new version and supersedes the previous one.
Supported formats: .pdf, .docx, .txt, .md, .xlsx.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := c.ensure(cmd)
			if err != nil {
				return err
			}
			var failed int
			for _, path := range args {
				if err := ingestFile(cmd, services, path, async); err != nil {
					failed++
					cmd.PrintErrf("%s: %v\n", path, err)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "queue files for the worker instead of indexing inline")
	return cmd
}

func ingestFile(cmd *cobra.Command, services *Services, path string, async bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	name := filepath.Base(path)
	if async {
		event, err := services.Ingestor.Upload(cmd.Context(), name, "", f)
		if err != nil {
			return err
		}
		cmd.Printf("queued %s (%s)\n", event.Filename, event.Key)
		return nil
	}
	doc, err := services.Ingestor.Ingest(cmd.Context(), name, "", f)
	if err != nil {
		return err
	}
	cmd.Printf("ingested %s v%d: %d chunks, %d pages (id %s)\n", doc.Filename, doc.Version, doc.ChunkCount, doc.PageCount, doc.ID)
	return nil
}

func (c *cli) askCommand() *cobra.Command {
	var (
		sessionID string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question with citations and a confidence tier",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := c.ensure(cmd)
			if err != nil {
				return err
			}
			answer, err := services.Query.Answer(cmd.Context(), strings.Join(args, " "), sessionID)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, answer)
			}
			printAnswer(cmd, answer)
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id for follow-up questions")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the answer as JSON")
	return cmd
}

func printAnswer(cmd *cobra.Command, answer *domain.GroundedAnswer) {
	cmd.Println(answer.Text)
	cmd.Println()
	for _, citation := range answer.Citations {
		cmd.Printf("  [%s]\n", citation.Label)
	}
	cmd.Printf("Confidence: %s (faithfulness %.2f)\n", answer.Confidence, answer.Faithfulness)
	if answer.Hedge != "" && !strings.Contains(answer.Text, answer.Hedge) {
		cmd.Println(answer.Hedge)
	}
	if len(answer.Degradations) > 0 {
		cmd.Printf("Degraded: %s\n", strings.Join(answer.Degradations, ", "))
	}
	cmd.Printf("Session: %s\n", answer.SessionID)
}

func (c *cli) docsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "docs",
		Short: "List the documents that can be cited",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, err := c.ensure(cmd)
			if err != nil {
				return err
			}
			names, err := services.Reader.ListDocuments(cmd.Context())
			if err != nil {
				return err
			}
			if len(names) == 0 {
				cmd.Println("No documents indexed.")
				return nil
			}
			for _, name := range names {
				cmd.Println(name)
			}
			return nil
		},
	}
}

func (c *cli) evalCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "eval <cases.yaml>",
		Short: "Score faithfulness and context recall against reference answers",
		Long: `Runs every case through the answer pipeline. The file is a YAML list:

  - question: How many days per week can employees work remotely?
    ground_truth: Employees may work remotely 3 days per week.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cases, err := readCases(args[0])
			if err != nil {
				return err
			}
			services, err := c.ensure(cmd)
			if err != nil {
				return err
			}
			report, err := services.Evaluator.Evaluate(cmd.Context(), cases)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, report)
			}
			printReport(cmd, report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	return cmd
}

func readCases(path string) ([]domain.EvalCase, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cases: %w", err)
	}
	var cases []domain.EvalCase
	if err := yaml.Unmarshal(raw, &cases); err != nil {
		return nil, fmt.Errorf("parse cases %s: %w", path, err)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("%s contains no cases", path)
	}
	return cases, nil
}

func printReport(cmd *cobra.Command, report *domain.EvalReport) {
	for _, r := range report.Results {
		if r.Error != "" {
			cmd.Printf("FAIL  %s: %s\n", r.Question, r.Error)
			continue
		}
		cmd.Printf("%-6s faith=%.2f relevancy=%.2f recall=%.2f  %s\n",
			r.Confidence, r.Faithfulness, r.AnswerRelevancy, r.ContextRecall, r.Question)
	}
	cmd.Println()
	cmd.Printf("cases=%d failed=%d mean_faithfulness=%.4f mean_answer_relevancy=%.4f mean_context_recall=%.4f\n",
		report.Cases, report.Failed, report.MeanFaithfulness, report.MeanAnswerRelevancy, report.MeanContextRecall)
}

func (c *cli) forgetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <session-id>",
		Short: "Clear the conversation memory of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := c.ensure(cmd)
			if err != nil {
				return err
			}
			if err := services.Query.ClearSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("session %s cleared\n", args[0])
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
