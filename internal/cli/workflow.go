package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewWorkflowCmd создаёт группу команд для управления workflows.
func NewWorkflowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows",
	}

	cmd.AddCommand(
		newWorkflowListCmd(clientFn, outputFn),
		newWorkflowCreateCmd(clientFn, outputFn),
		newWorkflowShowCmd(clientFn, outputFn),
		newWorkflowActivateCmd(clientFn, outputFn, true),
		newWorkflowActivateCmd(clientFn, outputFn, false),
		newWorkflowPushCmd(clientFn, outputFn),
		newWorkflowVersionCmd(clientFn, outputFn),
	)

	return cmd
}

func newWorkflowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			workflows, err := client.ListWorkflows()
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "ACTIVE", "CREATED"}
			rows := make([][]string, len(workflows))
			for i, wf := range workflows {
				rows[i] = []string{wf.ID, wf.Name, strconv.FormatBool(wf.IsActive), wf.CreatedAt}
			}

			out.Print(headers, rows, workflows)
			return nil
		},
	}
}

func newWorkflowCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var specFile string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a new workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			var spec []byte
			if specFile != "" {
				var err error
				spec, err = os.ReadFile(specFile)
				if err != nil {
					return fmt.Errorf("failed to read spec file: %w", err)
				}
			}

			workflow, err := client.CreateWorkflow(args[0], spec)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow created: %s", workflow.ID))
			out.Print(
				[]string{"ID", "NAME", "ACTIVE", "CREATED"},
				[][]string{{workflow.ID, workflow.Name, strconv.FormatBool(workflow.IsActive), workflow.CreatedAt}},
				workflow,
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&specFile, "file", "f", "", "Graph spec file for the first version")

	return cmd
}

func newWorkflowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show workflow details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			workflow, err := client.GetWorkflow(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "NAME", "ACTIVE", "CREATED"},
				[][]string{{workflow.ID, workflow.Name, strconv.FormatBool(workflow.IsActive), workflow.CreatedAt}},
				workflow,
			)
			return nil
		},
	}
}

func newWorkflowActivateCmd(clientFn func() *Client, outputFn func() *Output, active bool) *cobra.Command {
	use, short := "activate ID", "Activate a workflow"
	if !active {
		use, short = "deactivate ID", "Deactivate a workflow (schedules stop firing)"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.SetWorkflowActive(args[0], active); err != nil {
				return err
			}

			if active {
				out.Success(fmt.Sprintf("Workflow activated: %s", args[0]))
			} else {
				out.Success(fmt.Sprintf("Workflow deactivated: %s", args[0]))
			}
			return nil
		},
	}
}

func newWorkflowPushCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var specFile string

	cmd := &cobra.Command{
		Use:   "push ID",
		Short: "Push a new workflow version from a spec file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			spec, err := os.ReadFile(specFile)
			if err != nil {
				return fmt.Errorf("failed to read spec file: %w", err)
			}

			version, err := client.CreateVersion(args[0], spec)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Version %d created for workflow %s", version.Version, version.WorkflowID))
			return nil
		},
	}

	cmd.Flags().StringVarP(&specFile, "file", "f", "", "Graph spec file")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newWorkflowVersionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "version ID VERSION",
		Short: "Show a specific workflow version spec",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			versionNum, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[1])
			}

			version, err := client.GetVersion(args[0], versionNum)
			if err != nil {
				return err
			}

			out.JSON(version)
			return nil
		},
	}
}
