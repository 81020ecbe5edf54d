package main

import (
	"github.com/MrEthical07/goIdentity/internal/config"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	envFiles []string
}

func (o *rootOptions) load() (config.Env, error) {
	return config.Load(o.envFiles...)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "identityd",
		Short:         "Identity verification and credential reset service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load before the environment (default .env)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newUserCmd(opts),
		newLoadtestCmd(),
	)
	return cmd
}
