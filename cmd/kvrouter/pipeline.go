package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/codewandler/kvrouter/core/cluster"
)

// pipelineFile is the YAML layout read by the pipeline command:
//
//	hint: "user:1"
//	commands:
//	  - [set, "user:1", alice]
//	  - [set, "user:2", bob]
type pipelineFile struct {
	Hint     string            `yaml:"hint"`
	Commands []cluster.Command `yaml:"commands"`
}

func readPipelineFile(path string) (pipelineFile, error) {
	var pf pipelineFile
	data, err := os.ReadFile(path)
	if err != nil {
		return pf, err
	}
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return pf, fmt.Errorf("%s: %w", path, err)
	}
	return pf, nil
}

func newPipelineCmd(a *app) *cobra.Command {
	var (
		file string
		hint string
	)
	cmd := &cobra.Command{
		Use:   "pipeline -f <file>",
		Short: "Send a batch of commands, one pipelined batch per region",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pf, err := readPipelineFile(file)
			if err != nil {
				return err
			}
			if hint != "" {
				pf.Hint = hint
			}

			r, _, err := a.connect(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer closeRouter(r)

			groups, skipped := r.Partition(pf.Commands, pf.Hint)
			for _, c := range skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "skipped\t%s\n", c)
			}

			var failed int
			for _, g := range groups {
				res := r.DispatchGroup(cmd.Context(), g)
				if res.OK() {
					fmt.Fprintf(cmd.OutOrStdout(), "region %d\t%d commands\t%s\n", res.Region, res.Commands, res.Endpoint)
					continue
				}
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "region %d\t%d commands\tfailed: %v\n", res.Region, res.Commands, res.Err)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d region batches failed", failed, len(groups))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with the commands")
	cmd.Flags().StringVar(&hint, "hint", "", "shard key for commands without one")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
