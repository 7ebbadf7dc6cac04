package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/domainx/internal/database"
	"github.com/ZanzyTHEbar/domainx/internal/orchestrator"
)

// newTrackCmd runs one track of a library in the foreground. Tasks run inline,
// so the command returns once the track reached a terminal status.
func newTrackCmd(configPath *string, use string, track database.Track) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <library-id>",
		Short: fmt.Sprintf("Run the %s track of a library in the foreground", track),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath, nil)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			libraryID := args[0]

			taskID, runErr := a.orch.Enqueue(ctx, libraryID, track)
			if runErr != nil && !errors.Is(runErr, orchestrator.ErrNothingQueued) && taskID == "" {
				return runErr
			}

			lib, err := a.repo.GetLibrary(ctx, libraryID)
			if err != nil {
				return err
			}

			out := map[string]any{
				"library_id": lib.ID,
				"track":      track,
				"task_id":    taskID,
				"state":      lib.State(track),
			}
			if track == database.TrackReport && lib.ReportPath != "" {
				out["report_path"] = lib.ReportPath
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			return runErr
		},
	}
}
