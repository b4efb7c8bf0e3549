// Package cli wires the selene command line to the uploader.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/KubeRocketCI/selene/logging"
	"github.com/KubeRocketCI/selene/store"
	"github.com/KubeRocketCI/selene/uploader"
)

// Connector opens the target for (branch, build) at uri. It returns a usable
// target and close func even when err is non-nil.
type Connector func(ctx context.Context, uri, branch, build string) (uploader.Target, func(context.Context) error, error)

var requiredFlags = []string{"build", "branch", "stage"}

type Options struct {
	Connect Connector
	Log     logrus.FieldLogger
}

func connectStore(ctx context.Context, uri, branch, build string) (uploader.Target, func(context.Context) error, error) {
	s, err := store.Connect(ctx, uri)

	return s.Build(branch, build), s.Close, err
}

// NewRootCmd builds `selene --build <name> --branch <name> --stage <name> <results_path>`.
// Only argument errors make Execute fail; connection, insert and upload
// failures are logged and the command still succeeds.
func NewRootCmd(opts Options) *cobra.Command {
	if opts.Connect == nil {
		opts.Connect = connectStore
	}

	if opts.Log == nil {
		opts.Log = logging.C("selene")
	}

	var build, branch, stage string

	cmd := &cobra.Command{
		Use:   "selene --build <name> --branch <name> --stage <name> <results_path>",
		Short: "Post build data and result files to MongoDB",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(_ *cobra.Command, _ []string) error {
			for i, value := range []string{build, branch, stage} {
				if strings.TrimSpace(value) == "" {
					return fmt.Errorf("--%s must not be empty", requiredFlags[i])
				}
			}

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			run(cmd.Context(), opts, build, branch, stage, args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&build, "build", "", "Build name")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch name")
	cmd.Flags().StringVar(&stage, "stage", "", "Stage name")

	for _, name := range requiredFlags {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func run(ctx context.Context, opts Options, build, branch, stage, resultsPath string) {
	if ctx == nil {
		ctx = context.Background()
	}

	log := opts.Log.WithFields(logrus.Fields{"branch": branch, "build": build})

	target, closeFn, err := opts.Connect(ctx, store.DefaultURI, branch, build)
	if err != nil {
		log.WithError(err).Error("Failed to connect to MongoDB")
	} else {
		log.Info("Connected to MongoDB")
	}

	defer func() {
		if closeErr := closeFn(ctx); closeErr != nil {
			log.WithError(closeErr).Warn("Failed to disconnect from MongoDB")
		}
	}()

	report := uploader.New(target, log).Run(ctx, stage, resultsPath)

	log.WithFields(logrus.Fields{
		"record":   report.RecordID,
		"uploaded": report.Uploaded,
		"failed":   report.Failed,
		"skipped":  report.Skipped,
	}).Info("Upload finished")
}
