package analysis

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/driftlab/driftlab/internal/domain"
)

// WriteReport renders a Result as aligned text. The same structure marshals
// to JSON for machine consumers.
func WriteReport(w io.Writer, res Result) error {
	run := res.Run
	fmt.Fprintf(w, "=== Run %s ===\n", run.ID)
	// Record files analyzed without their metadata carry no run settings.
	if run.Duration > 0 {
		fmt.Fprintf(w, "seed %d, %d processes, duration %s, max clock rate %d/s\n",
			run.Seed, run.Processes, run.Duration, run.MaxClockRate)
		fmt.Fprintf(w, "event upper %d, send-one cut %d, send-all cut %d\n",
			run.EventUpper, run.SendOneCut, run.SendAllCut)
	}
	if run.Status != "" {
		fmt.Fprintf(w, "status %s", run.Status)
		if run.Error != "" {
			fmt.Fprintf(w, " (%s)", run.Error)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Processes ===")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROC\tRATE\tTICKS\tCLOCK\tDRIFT\tJUMP min/mean/max\tRECV\tGAP min/mean/max\tQUEUE mean/max\tSEND1\tSENDALL\tINTERNAL")
	for _, st := range res.Processes {
		gap := "-"
		if st.Receives > 0 {
			gap = fmt.Sprintf("%d/%.2f/%d", st.GapMin, st.GapMean, st.GapMax)
		}
		fmt.Fprintf(tw, "%d\t%d/s\t%s\t%s\t%d\t%d/%.2f/%d\t%s\t%s\t%.2f/%d\t%s\t%s\t%s\n",
			st.Process, st.TickRate,
			humanize.Comma(st.Ticks), humanize.Comma(st.FinalClock),
			st.Drift,
			st.JumpMin, st.JumpMean, st.JumpMax,
			humanize.Comma(st.Receives), gap,
			st.QueueMean, st.QueueMax,
			humanize.Comma(st.SendOnes), humanize.Comma(st.SendAlls), humanize.Comma(st.Internals),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Cross-process ===")
	fmt.Fprintf(w, "final clock spread: %s\n", humanize.Comma(res.Spread))
	if res.Fastest != domain.NoProcess {
		fmt.Fprintf(w, "fastest: process %d (%d/s), slowest: process %d (%d/s)\n",
			res.Fastest, rateOf(res.Processes, res.Fastest),
			res.Slowest, rateOf(res.Processes, res.Slowest))
	}
	return nil
}
