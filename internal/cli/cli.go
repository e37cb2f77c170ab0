package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/flovyn/flovyn/internal/log"
	internal_storage "github.com/flovyn/flovyn/internal/storage"
	"github.com/flovyn/flovyn/pkg/models"
	"github.com/flovyn/flovyn/pkg/service"
	"github.com/flovyn/flovyn/pkg/storage"
)

// SetupCLI attaches the administrative subcommands. They talk straight to
// the database, so they work whether or not a server is running.
func SetupCLI(rootCmd *cobra.Command) {
	startCmd := &cobra.Command{
		Use:   "start [kind]",
		Short: "Start a workflow execution",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, closeStore := dispatchFromFlags(cmd)
			defer closeStore()
			queue, _ := cmd.Flags().GetString("queue")
			input, _ := cmd.Flags().GetString("input")
			wf, err := svc.StartWorkflow(context.Background(), service.StartWorkflowRequest{
				Kind:      args[0],
				TaskQueue: queue,
				Input:     []byte(input),
			})
			if err != nil {
				fatal("failed to start workflow: %v", err)
			}
			fmt.Fprintf(os.Stdout, "Started workflow %s (kind %s) on queue %s\n", wf.ID, wf.Kind, wf.TaskQueue)
		},
	}
	startCmd.Flags().String("queue", "default", "Task queue to run on")
	startCmd.Flags().String("input", "{}", "Workflow input as JSON")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow executions",
		Run: func(cmd *cobra.Command, args []string) {
			svc, closeStore := dispatchFromFlags(cmd)
			defer closeStore()
			status, _ := cmd.Flags().GetString("status")
			workflows, err := svc.ListWorkflows(context.Background(), storage.WorkflowFilter{
				Status: models.WorkflowStatus(status),
			})
			if err != nil {
				fatal("failed to list workflows: %v", err)
			}
			if len(workflows) == 0 {
				fmt.Fprintf(os.Stdout, "No workflows found.\n")
				return
			}
			for _, wf := range workflows {
				fmt.Fprintf(os.Stdout, "- ID: %s, Kind: %s, Status: %s, Queue: %s, Created: %s\n",
					wf.ID, wf.Kind, wf.Status, wf.TaskQueue, wf.CreatedAt.Format(time.RFC3339))
			}
		},
	}
	listCmd.Flags().String("status", "", "Filter by status")

	describeCmd := &cobra.Command{
		Use:   "describe [id]",
		Short: "Show a workflow execution and its event history",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, closeStore := dispatchFromFlags(cmd)
			defer closeStore()
			wf, err := svc.GetWorkflow(context.Background(), args[0])
			if err != nil {
				fatal("failed to load workflow: %v", err)
			}
			out, _ := json.MarshalIndent(wf, "", "  ")
			fmt.Fprintf(os.Stdout, "%s\n", out)
			events, err := svc.ListEvents(context.Background(), args[0])
			if err != nil {
				fatal("failed to load events: %v", err)
			}
			fmt.Fprintf(os.Stdout, "Events:\n")
			for _, e := range events {
				fmt.Fprintf(os.Stdout, "  %4d %-26s %s\n", e.SequenceNumber, e.EventType, string(e.Payload))
			}
		},
	}

	signalCmd := &cobra.Command{
		Use:   "signal [id] [name]",
		Short: "Deliver a signal to a workflow execution",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			svc, closeStore := dispatchFromFlags(cmd)
			defer closeStore()
			payload, _ := cmd.Flags().GetString("payload")
			if err := svc.SignalWorkflow(context.Background(), args[0], args[1], []byte(payload)); err != nil {
				fatal("failed to signal workflow: %v", err)
			}
			fmt.Fprintf(os.Stdout, "Signalled workflow %s with %q\n", args[0], args[1])
		},
	}
	signalCmd.Flags().String("payload", "{}", "Signal payload as JSON")

	cancelCmd := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Request cooperative cancellation of a workflow execution",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, closeStore := dispatchFromFlags(cmd)
			defer closeStore()
			if err := svc.CancelWorkflow(context.Background(), args[0]); err != nil {
				fatal("failed to cancel workflow: %v", err)
			}
			fmt.Fprintf(os.Stdout, "Cancellation requested for workflow %s\n", args[0])
		},
	}

	workersCmd := &cobra.Command{
		Use:   "workers",
		Short: "List registered workers",
		Run: func(cmd *cobra.Command, args []string) {
			store := initStoreFromFlags(cmd)
			defer store.Close()
			notifier := service.NewNotifier()
			defer notifier.Close()
			svc := service.NewWorkerService(store, notifier, log.GetLogger())
			workers, err := svc.List(context.Background())
			if err != nil {
				fatal("failed to list workers: %v", err)
			}
			if len(workers) == 0 {
				fmt.Fprintf(os.Stdout, "No workers registered.\n")
				return
			}
			for _, w := range workers {
				fmt.Fprintf(os.Stdout, "- %s [%s] queue=%s heartbeat=%s\n",
					w.WorkerName, w.Status, w.TaskQueue, w.LastHeartbeatAt.Format(time.RFC3339))
			}
		},
	}

	rootCmd.AddCommand(startCmd, listCmd, describeCmd, signalCmd, cancelCmd, workersCmd)
}

func dispatchFromFlags(cmd *cobra.Command) (*service.DispatchService, func()) {
	store := initStoreFromFlags(cmd)
	notifier := service.NewNotifier()
	svc := service.NewDispatchService(store, notifier, log.GetLogger())
	return svc, func() {
		notifier.Close()
		store.Close()
	}
}

func initStoreFromFlags(cmd *cobra.Command) *internal_storage.PostgresStore {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil || dbConnStr == "" {
		fatal("--db connection string is required")
	}
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		fatal("failed to initialize store: %v", err)
	}
	return store
}

func fatal(format string, args ...interface{}) {
	log.GetLogger().Errorf(format, args...)
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
