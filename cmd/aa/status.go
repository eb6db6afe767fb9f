package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/citizenwallet/aa-gateway/pkg/apiclient"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <hash>",
	Short: "get the status of a user operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		res, err := apiclient.New(apiURL, timeout).Status(ctx, args[0])
		if err != nil {
			return err
		}

		b, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}

		fmt.Println(string(b))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
