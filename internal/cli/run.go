package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunWatchCmd(clientFn, outputFn),
		newRunPreviewCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var workflowID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(ListRunsOpts{
				WorkflowID: workflowID,
				Status:     status,
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "WORKFLOW_ID", "STATUS", "NODES", "CREATED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r.ID, r.WorkflowID, r.Status, strconv.Itoa(len(r.NodeRuns)), r.CreatedAt}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&workflowID, "workflow-id", "", "Filter by workflow ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, COMPLETED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var specFile string
	var version int
	var idempotencyKey string

	cmd := &cobra.Command{
		Use:   "start [WORKFLOW_ID]",
		Short: "Start a new run",
		Long: `Start a new run of a saved workflow, or an ad-hoc run
of a graph spec from a file when --file is given instead of WORKFLOW_ID.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			var run *RunResponse
			var err error

			switch {
			case len(args) == 1:
				req := StartWorkflowRunRequest{IdempotencyKey: idempotencyKey}
				if cmd.Flags().Changed("version") {
					req.Version = version
				}
				run, err = client.StartWorkflowRun(args[0], req)

			case specFile != "":
				spec, readErr := os.ReadFile(specFile)
				if readErr != nil {
					return fmt.Errorf("failed to read spec file: %w", readErr)
				}
				run, err = client.StartRun(StartRunRequest{
					Spec:           spec,
					IdempotencyKey: idempotencyKey,
				})

			default:
				return fmt.Errorf("either WORKFLOW_ID or --file is required")
			}
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run started: %s", run.ID))
			out.Print(
				[]string{"ID", "WORKFLOW_ID", "STATUS", "NODES", "CREATED"},
				[][]string{{run.ID, run.WorkflowID, run.Status, strconv.Itoa(len(run.NodeRuns)), run.CreatedAt}},
				run,
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&specFile, "file", "f", "", "Graph spec file for an ad-hoc run")
	cmd.Flags().IntVar(&version, "version", 0, "Workflow version (latest if not specified)")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency key for deduplication")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details with per-node state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "WORKFLOW_ID", "STATUS", "ERROR", "CREATED"},
				[][]string{{run.ID, run.WorkflowID, run.Status, run.Error, run.CreatedAt}},
				run,
			)

			if len(run.NodeRuns) == 0 {
				return nil
			}

			nodeIDs := make([]string, 0, len(run.NodeRuns))
			for id := range run.NodeRuns {
				nodeIDs = append(nodeIDs, id)
			}
			sort.Strings(nodeIDs)

			headers := []string{"NODE", "STATUS", "ATTEMPT", "CACHE", "ERROR"}
			rows := make([][]string, 0, len(nodeIDs))
			for _, id := range nodeIDs {
				nr := run.NodeRuns[id]
				cache := ""
				if nr.CacheHit {
					cache = "hit"
				}
				errMsg := ""
				if nr.Error != nil {
					errMsg = nr.Error.Kind + ": " + nr.Error.Message
				}
				rows = append(rows, []string{id, nr.Status, strconv.Itoa(nr.Attempt), cache, errMsg})
			}

			out.Line("")
			out.Table(headers, rows)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.CancelRun(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run cancelled: %s", run.ID))
			return nil
		},
	}
}

func newRunWatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "watch ID",
		Short: "Stream live events of a run until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			return client.StreamRunEvents(args[0], func(ev StreamEvent) error {
				var payload struct {
					NodeID    string `json:"node_id,omitempty"`
					From      string `json:"from,omitempty"`
					To        string `json:"to,omitempty"`
					Attempt   int    `json:"attempt,omitempty"`
					Message   string `json:"message,omitempty"`
					Completed int    `json:"completed,omitempty"`
					Total     int    `json:"total,omitempty"`
					Status    string `json:"status,omitempty"`
					Dropped   int    `json:"dropped,omitempty"`
				}
				if err := json.Unmarshal(ev.Data, &payload); err != nil {
					return err
				}

				switch ev.Kind {
				case "node.status_changed":
					out.Line("%-22s %s: %s -> %s (attempt %d)", ev.Kind, payload.NodeID, payload.From, payload.To, payload.Attempt)
				case "node.log":
					out.Line("%-22s %s: %s", ev.Kind, payload.NodeID, payload.Message)
				case "run.progress":
					out.Line("%-22s %d/%d", ev.Kind, payload.Completed, payload.Total)
				case "run.finished":
					out.Line("%-22s %s", ev.Kind, payload.Status)
				case "bus.backpressure":
					out.Line("%-22s %d events dropped", ev.Kind, payload.Dropped)
				default:
					out.Line("%-22s %s", ev.Kind, string(ev.Data))
				}
				return nil
			})
		},
	}
}

func newRunPreviewCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var specFile string

	cmd := &cobra.Command{
		Use:   "preview NODE_ID",
		Short: "Execute a single node and its ancestors without creating a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			spec, err := os.ReadFile(specFile)
			if err != nil {
				return fmt.Errorf("failed to read spec file: %w", err)
			}

			preview, err := client.PreviewNode(PreviewRequest{
				Spec:   spec,
				NodeID: args[0],
			})
			if err != nil {
				return err
			}

			out.JSON(preview)
			return nil
		},
	}

	cmd.Flags().StringVarP(&specFile, "file", "f", "", "Graph spec file")
	cmd.MarkFlagRequired("file")

	return cmd
}
