package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/DrPeryCox/pres-gen-new/internal/deck"
	"github.com/DrPeryCox/pres-gen-new/internal/jobs"
	"github.com/DrPeryCox/pres-gen-new/internal/pipeline"
	"github.com/DrPeryCox/pres-gen-new/internal/transcode"
)

type assembleOptions struct {
	timeline      string
	deck          string
	narration     string
	output        string
	workDir       string
	jobID         string
	removeSources bool
	noSpanCheck   bool
}

func newAssembleCommand(ctx *commandContext) *cobra.Command {
	var opts assembleOptions

	cmd := &cobra.Command{
		Use:   "assemble",
		Short: "Assemble a slide deck and a narration clip into one video",
		Long: "Renders one side-by-side fragment per timeline segment (slide on the left,\n" +
			"narration on the right) and concatenates them in timeline order.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			log := ctx.newLogger(cmd.ErrOrStderr())

			pcfg := cfg.PipelineConfig()
			pcfg.RemoveSources = opts.removeSources
			if opts.noSpanCheck {
				pcfg.CheckNarrationSpan = false
			}
			if strings.TrimSpace(opts.workDir) != "" {
				pcfg.WorkRoot = opts.workDir
			}

			jobID := strings.TrimSpace(opts.jobID)
			if jobID == "" {
				jobID = jobs.NewID()
			}
			output := opts.output
			if output == "" {
				output = jobs.ResultName(jobID)
			}
			if output, err = filepath.Abs(output); err != nil {
				return err
			}

			media := transcode.New(transcode.NewExecInvoker(log), cfg.TranscodeOptions(), log)
			orchestrator := pipeline.New(pcfg, media, pipeline.PageCounterFunc(deck.PageCount), log)

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errOut := cmd.ErrOrStderr()
			res, err := orchestrator.Run(runCtx, pipeline.Request{
				JobID:         jobID,
				TimelinePath:  opts.timeline,
				DeckPath:      opts.deck,
				NarrationPath: opts.narration,
				OutputPath:    output,
				Progress: func(phase pipeline.Phase, segment, total int) {
					if phase == pipeline.PhaseComposing {
						fmt.Fprintf(errOut, "%s segment %d/%d\n", phase, segment+1, total)
						return
					}
					fmt.Fprintf(errOut, "%s\n", phase)
				},
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %s\n", res.OutputPath)
			fmt.Fprintf(out, "Segments: %d  Length: %.2fs  Took: %s\n", res.Segments, res.Duration, res.Elapsed.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.timeline, "timeline", "", "Timeline JSON file")
	cmd.Flags().StringVar(&opts.deck, "deck", "", "Presentation document (PDF)")
	cmd.Flags().StringVar(&opts.narration, "narration", "", "Narration video clip")
	cmd.Flags().StringVarP(&opts.output, "out", "o", "", "Output video (default processed_video_<job>.mp4)")
	cmd.Flags().StringVar(&opts.workDir, "work-dir", "", "Parent of the job working directory (default worker.work_root)")
	cmd.Flags().StringVar(&opts.jobID, "job-id", "", "Job id used for the working directory (default random)")
	cmd.Flags().BoolVar(&opts.removeSources, "remove-sources", false, "Delete the three input files after the run")
	cmd.Flags().BoolVar(&opts.noSpanCheck, "no-span-check", false, "Skip the narration length check")
	_ = cmd.MarkFlagRequired("timeline")
	_ = cmd.MarkFlagRequired("deck")
	_ = cmd.MarkFlagRequired("narration")
	return cmd
}
