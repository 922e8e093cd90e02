package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewInstanceCmd создаёт группу команд для управления экземплярами процессов.
func NewInstanceCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instance",
		Aliases: []string{"inst"},
		Short:   "Manage process instances",
	}

	cmd.AddCommand(
		newInstanceListCmd(clientFn, outputFn),
		newInstanceStartCmd(clientFn, outputFn),
		newInstanceShowCmd(clientFn, outputFn),
		newInstanceHistoryCmd(clientFn, outputFn),
		newInstanceResumeCmd(clientFn, outputFn),
		newInstanceCancelCmd(clientFn, outputFn),
		newInstanceRetryCmd(clientFn, outputFn),
	)

	return cmd
}

// parseInputFlags разбирает повторяемые --input KEY=VALUE в map.
func parseInputFlags(inputs []string) (map[string]any, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	result := make(map[string]any, len(inputs))
	for _, kv := range inputs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
		}
		result[parts[0]] = parts[1]
	}
	return result, nil
}

func newInstanceListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var definitionID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List process instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			instances, err := client.ListInstances(ListInstancesOpts{
				DefinitionID: definitionID,
				Status:       status,
				Limit:        limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "DEFINITION", "VER", "STATUS", "ACTIVITY", "CREATED"}
			rows := make([][]string, len(instances))
			for i, inst := range instances {
				rows[i] = []string{
					inst.ID, inst.DefinitionID, strconv.Itoa(inst.DefinitionVersion),
					inst.Status, inst.CurrentActivityID, inst.CreatedAt,
				}
			}

			out.Print(headers, rows, instances)
			return nil
		},
	}

	cmd.Flags().StringVar(&definitionID, "definition-id", "", "Filter by definition ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, SUSPENDED, ...)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of instances")

	return cmd
}

func newInstanceStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var inputs []string
	var version int
	var correlationID string

	cmd := &cobra.Command{
		Use:   "start DEFINITION_ID",
		Short: "Create and start a process instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			input, err := parseInputFlags(inputs)
			if err != nil {
				return err
			}

			inst, err := client.CreateInstance(args[0], CreateInstanceRequest{
				Input:         input,
				Version:       version,
				CorrelationID: correlationID,
				Start:         true,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Instance started: %s (%s)", inst.ID, inst.Status))
			out.Print(
				[]string{"ID", "DEFINITION", "STATUS", "ACTIVITY"},
				[][]string{{inst.ID, inst.DefinitionID, inst.Status, inst.CurrentActivityID}},
				inst,
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")
	cmd.Flags().IntVar(&version, "version", 0, "Definition version (default: latest published)")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Idempotency key")

	return cmd
}

func newInstanceShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show instance details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			inst, err := client.GetInstance(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "DEFINITION", "VER", "STATUS", "ACTIVITY", "BOOKMARKS", "ERROR"},
				[][]string{{
					inst.ID, inst.DefinitionID, strconv.Itoa(inst.DefinitionVersion),
					inst.Status, inst.CurrentActivityID,
					strings.Join(inst.Bookmarks, ","), inst.LastError,
				}},
				inst,
			)
			return nil
		},
	}
}

func newInstanceHistoryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "history ID",
		Short: "Show instance history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			history, err := client.GetHistory(args[0])
			if err != nil {
				return err
			}

			headers := []string{"AT", "TYPE", "ACTIVITY", "MESSAGE"}
			rows := make([][]string, len(history))
			for i, e := range history {
				rows[i] = []string{e.At, e.Type, e.ActivityID, e.Message}
			}

			out.Print(headers, rows, history)
			return nil
		},
	}
}

func newInstanceResumeCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var bookmark string
	var inputs []string

	cmd := &cobra.Command{
		Use:   "resume ID",
		Short: "Resume a suspended instance by bookmark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			input, err := parseInputFlags(inputs)
			if err != nil {
				return err
			}

			inst, err := client.ResumeInstance(args[0], ResumeRequest{
				Bookmark: bookmark,
				Input:    input,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Instance resumed: %s (%s)", inst.ID, inst.Status))
			out.Print(
				[]string{"ID", "STATUS", "ACTIVITY"},
				[][]string{{inst.ID, inst.Status, inst.CurrentActivityID}},
				inst,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&bookmark, "bookmark", "", "Bookmark name, e.g. user:approve (required)")
	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")
	cmd.MarkFlagRequired("bookmark")

	return cmd
}

func newInstanceCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			inst, err := client.CancelInstance(args[0], reason)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Instance cancelled: %s", inst.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Cancellation reason")

	return cmd
}

func newInstanceRetryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "retry ID",
		Short: "Retry a faulted instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			inst, err := client.RetryInstance(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Instance retried: %s (%s)", inst.ID, inst.Status))
			return nil
		},
	}
}
