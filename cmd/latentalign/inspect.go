package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-latent/checkpoints"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file.pth>",
		Short: "Print the parameters stored in a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sd, err := checkpoints.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !sd.Metadata.CreatedAt.IsZero() {
				fmt.Fprintf(out, "%s %s, saved %s\n", sd.Metadata.Framework, sd.Metadata.Version, sd.Metadata.CreatedAt.Format("2006-01-02 15:04:05"))
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSHAPE\tL2")
			total := 0
			for _, w := range sd.Weights {
				fmt.Fprintf(tw, "%s\t%v\t%.6f\n", w.Name, w.Shape, floats.Norm(w.Data, 2))
				total += len(w.Data)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d tensors, %d parameters\n", sd.Len(), total)
			return nil
		},
	}
}
