package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewSignalCmd создаёт группу команд для сигналов и внешних событий.
func NewSignalCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Broadcast signals and trigger events",
	}

	cmd.AddCommand(
		newSignalSendCmd(clientFn, outputFn),
		newSignalEventCmd(clientFn, outputFn),
	)

	return cmd
}

func newSignalSendCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var inputs []string

	cmd := &cobra.Command{
		Use:   "send NAME",
		Short: "Broadcast a signal to all waiting instances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			input, err := parseInputFlags(inputs)
			if err != nil {
				return err
			}

			res, err := client.BroadcastSignal(args[0], input)
			if err != nil {
				return err
			}

			if res.Resumed < 0 {
				// Асинхронная доставка через брокер
				out.Success(fmt.Sprintf("Signal %q accepted for delivery", res.Signal))
			} else {
				out.Success(fmt.Sprintf("Signal %q resumed %d instance(s)", res.Signal, res.Resumed))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")

	return cmd
}

func newSignalEventCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var inputs []string

	cmd := &cobra.Command{
		Use:   "event NAME",
		Short: "Trigger definitions subscribed to an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			input, err := parseInputFlags(inputs)
			if err != nil {
				return err
			}

			res, err := client.TriggerEvent(args[0], input)
			if err != nil {
				return err
			}

			if len(res.Started) == 0 {
				out.Success(fmt.Sprintf("Event %q accepted", res.Event))
				return nil
			}

			out.Success(fmt.Sprintf("Event %q started %d instance(s): %s",
				res.Event, len(res.Started), strings.Join(res.Started, ", ")))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")

	return cmd
}
