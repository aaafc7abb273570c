package main

import (
	"fmt"
	"io"
	"time"

	"github.com/brojonat/solwallet/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

// lateWatch is the CLI view of a late confirmation workflow.
type lateWatch struct {
	WorkflowID string                           `json:"workflow_id"`
	RunID      string                           `json:"run_id"`
	Status     string                           `json:"status"`
	TaskQueue  string                           `json:"task_queue"`
	StartedAt  *time.Time                       `json:"started_at,omitempty"`
	ClosedAt   *time.Time                       `json:"closed_at,omitempty"`
	Result     *temporal.LateConfirmationResult `json:"result,omitempty"`
	Error      string                           `json:"error,omitempty"`
}

func describeLateCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe-late",
		Usage:     "Show the late confirmation watch for a signature",
		Aliases:   []string{"desc"},
		ArgsUsage: "SIGNATURE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			id := temporal.WorkflowID(c.Args().First())
			desc, err := temporalClient.DescribeWorkflowExecution(c.Context, id, "")
			if err != nil {
				return fmt.Errorf("failed to describe workflow %q: %w", id, err)
			}

			info := desc.GetWorkflowExecutionInfo()
			out := lateWatch{
				WorkflowID: id,
				RunID:      info.GetExecution().GetRunId(),
				Status:     info.GetStatus().String(),
				TaskQueue:  info.GetTaskQueue(),
			}
			if ts := info.GetStartTime(); ts != nil {
				t := ts.AsTime()
				out.StartedAt = &t
			}
			if ts := info.GetCloseTime(); ts != nil {
				t := ts.AsTime()
				out.ClosedAt = &t

				var result temporal.LateConfirmationResult
				if err := temporalClient.GetWorkflow(c.Context, id, out.RunID).Get(c.Context, &result); err != nil {
					out.Error = err.Error()
				} else {
					out.Result = &result
				}
			}

			return render(c, out, func(w io.Writer) { printLateWatch(w, out) })
		},
	}
}

func printLateWatch(w io.Writer, out lateWatch) {
	fmt.Fprintf(w, "Workflow ID:  %s\n", out.WorkflowID)
	fmt.Fprintf(w, "Run ID:       %s\n", out.RunID)
	fmt.Fprintf(w, "Status:       %s\n", out.Status)
	fmt.Fprintf(w, "Task Queue:   %s\n", out.TaskQueue)
	if out.StartedAt != nil {
		fmt.Fprintf(w, "Started:      %s\n", out.StartedAt.Format(time.RFC3339))
	}
	if out.ClosedAt != nil {
		fmt.Fprintf(w, "Closed:       %s\n", out.ClosedAt.Format(time.RFC3339))
	}
	if out.Result != nil {
		fmt.Fprintf(w, "\nOutcome:      %s\n", out.Result.Outcome)
		fmt.Fprintf(w, "Checks:       %d\n", out.Result.Checks)
		if out.Result.Reason != nil {
			fmt.Fprintf(w, "Reason:       %s\n", *out.Result.Reason)
		}
	}
	if out.Error != "" {
		fmt.Fprintf(w, "\nError:        %s\n", out.Error)
	}
}

// getTemporalClient dials Temporal using the global flags.
func getTemporalClient(c *cli.Context) (client.Client, error) {
	host := c.String("temporal-host")
	if host == "" {
		host = "localhost:7233"
	}
	namespace := c.String("temporal-namespace")
	if namespace == "" {
		namespace = "default"
	}

	temporalClient, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}
	return temporalClient, nil
}
