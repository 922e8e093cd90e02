package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewDefinitionCmd создаёт группу команд для управления определениями процессов.
func NewDefinitionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "definition",
		Aliases: []string{"def"},
		Short:   "Manage process definitions",
	}

	cmd.AddCommand(
		newDefinitionCreateCmd(clientFn, outputFn),
		newDefinitionShowCmd(clientFn, outputFn),
		newDefinitionPublishCmd(clientFn, outputFn),
		newDefinitionUnpublishCmd(clientFn, outputFn),
	)

	return cmd
}

func newDefinitionCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Save a process definition from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read definition file: %w", err)
			}

			// Валидируем что это валидный JSON
			if !json.Valid(data) {
				return fmt.Errorf("definition file is not valid JSON")
			}

			def, err := client.CreateDefinition(json.RawMessage(data))
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Definition saved: %s v%d", def.ID, def.Version))
			out.Print(
				[]string{"ID", "VERSION", "NAME", "PUBLISHED", "ACTIVITIES"},
				[][]string{{
					def.ID, strconv.Itoa(def.Version), def.Name,
					strconv.FormatBool(def.Published), strconv.Itoa(def.Activities),
				}},
				def,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to definition JSON file (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newDefinitionShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show the latest version of a definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			def, err := client.GetDefinition(args[0])
			if err != nil {
				return err
			}

			// Определение — произвольный JSON-документ, печатаем целиком.
			out.JSON(def)
			return nil
		},
	}
}

func newDefinitionPublishCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "publish ID VERSION",
		Short: "Publish a definition version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			version, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[1])
			}

			def, err := client.PublishDefinition(args[0], version)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Definition published: %s v%d", def.ID, def.Version))
			return nil
		},
	}
}

func newDefinitionUnpublishCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "unpublish ID VERSION",
		Short: "Unpublish a definition version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			version, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[1])
			}

			def, err := client.UnpublishDefinition(args[0], version)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Definition unpublished: %s v%d", def.ID, def.Version))
			return nil
		},
	}
}
