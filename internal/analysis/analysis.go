// Package analysis computes post-run statistics from a run's persisted
// records: per-process clock jumps, drift, receive gaps, queue depths, and
// event mix, plus cross-process spread. It reads records as the store
// returns them and never touches the live simulation.
package analysis

import (
	"sort"

	"github.com/driftlab/driftlab/internal/domain"
)

// ProcessStats summarizes one process's record stream.
type ProcessStats struct {
	Process    domain.ProcessID `json:"process"`
	TickRate   int              `json:"tick_rate"`
	Ticks      int64            `json:"ticks"`
	FinalClock int64            `json:"final_clock"`

	// Drift is FinalClock - Ticks: how far message traffic pushed the clock
	// beyond the process's own event count. A pure-internal run drifts 0.
	Drift int64 `json:"drift"`

	// Jumps are successive clock differences, the first taken against the
	// initial clock value 0. Internal and send ticks jump exactly 1;
	// receives jump further when the sender's clock was ahead.
	JumpMin  int64   `json:"jump_min"`
	JumpMax  int64   `json:"jump_max"`
	JumpMean float64 `json:"jump_mean"`

	// Gaps are measured at receive ticks only: clock after the receive
	// minus the carried sender clock. Always at least 1; large gaps mean
	// this process ran well ahead of its senders.
	Receives int64   `json:"receives"`
	GapMin   int64   `json:"gap_min"`
	GapMax   int64   `json:"gap_max"`
	GapMean  float64 `json:"gap_mean"`

	// Queue depth after each tick, averaged over every record.
	QueueMax  int     `json:"queue_max"`
	QueueMean float64 `json:"queue_mean"`

	// Event mix.
	SendOnes  int64 `json:"send_ones"`
	SendAlls  int64 `json:"send_alls"`
	Internals int64 `json:"internals"`
}

// Result is the full analysis of one run.
type Result struct {
	Run       domain.RunMeta `json:"run"`
	Processes []ProcessStats `json:"processes"`

	// Spread is the difference between the highest and lowest final clock.
	Spread int64 `json:"final_clock_spread"`

	// Fastest and Slowest are the processes with the extreme tick rates,
	// or NoProcess when the run has none.
	Fastest domain.ProcessID `json:"fastest"`
	Slowest domain.ProcessID `json:"slowest"`
}

// DriftAt returns the drift of a single record: how far its clock runs
// ahead of the tick counter. Plotting this per record gives the drift
// series over a run.
func DriftAt(rec domain.Record) int64 {
	return rec.Clock - rec.Tick - 1
}

// Analyze computes per-process and cross-process statistics. recs must be
// ordered by (process, tick) as the store and the jsonl loader return them;
// procs supplies the drawn tick rates. A process present in procs but
// absent from recs (a crash before its first tick) yields a zero-valued
// stats row.
func Analyze(run domain.RunMeta, procs []domain.ProcessMeta, recs []domain.Record) Result {
	res := Result{
		Run:     run,
		Fastest: domain.NoProcess,
		Slowest: domain.NoProcess,
	}

	rates := make(map[domain.ProcessID]int, len(procs))
	for _, p := range procs {
		rates[p.Process] = p.TickRate
	}

	// Records arrive grouped by process; split on process boundaries.
	for start := 0; start < len(recs); {
		end := start
		for end < len(recs) && recs[end].Process == recs[start].Process {
			end++
		}
		group := recs[start:end]
		st := analyzeProcess(group)
		st.TickRate = rates[st.Process]
		delete(rates, st.Process)
		res.Processes = append(res.Processes, st)
		start = end
	}

	// Processes with no records still get a row.
	for _, p := range procs {
		if _, missing := rates[p.Process]; missing {
			res.Processes = append(res.Processes, ProcessStats{
				Process:  p.Process,
				TickRate: p.TickRate,
			})
		}
	}
	sort.Slice(res.Processes, func(i, j int) bool {
		return res.Processes[i].Process < res.Processes[j].Process
	})

	for i, st := range res.Processes {
		if i == 0 {
			res.Fastest, res.Slowest = st.Process, st.Process
			continue
		}
		if st.TickRate > rateOf(res.Processes, res.Fastest) {
			res.Fastest = st.Process
		}
		if st.TickRate < rateOf(res.Processes, res.Slowest) {
			res.Slowest = st.Process
		}
	}
	if len(res.Processes) > 0 {
		minClock, maxClock := res.Processes[0].FinalClock, res.Processes[0].FinalClock
		for _, st := range res.Processes[1:] {
			if st.FinalClock < minClock {
				minClock = st.FinalClock
			}
			if st.FinalClock > maxClock {
				maxClock = st.FinalClock
			}
		}
		res.Spread = maxClock - minClock
	}
	return res
}

func analyzeProcess(recs []domain.Record) ProcessStats {
	st := ProcessStats{Process: recs[0].Process}
	st.Ticks = int64(len(recs))
	st.FinalClock = recs[len(recs)-1].Clock
	st.Drift = st.FinalClock - st.Ticks

	var jumpSum, gapSum, queueSum int64
	prevClock := int64(0)
	for i, r := range recs {
		jump := r.Clock - prevClock
		prevClock = r.Clock
		jumpSum += jump
		if i == 0 || jump < st.JumpMin {
			st.JumpMin = jump
		}
		if jump > st.JumpMax {
			st.JumpMax = jump
		}

		queueSum += int64(r.Queue)
		if r.Queue > st.QueueMax {
			st.QueueMax = r.Queue
		}

		switch r.Kind {
		case domain.EventReceive:
			gap := r.Clock - r.SentClock
			gapSum += gap
			if st.Receives == 0 || gap < st.GapMin {
				st.GapMin = gap
			}
			if gap > st.GapMax {
				st.GapMax = gap
			}
			st.Receives++
		case domain.EventSendOne:
			st.SendOnes++
		case domain.EventSendAll:
			st.SendAlls++
		case domain.EventInternal:
			st.Internals++
		}
	}
	st.JumpMean = float64(jumpSum) / float64(len(recs))
	st.QueueMean = float64(queueSum) / float64(len(recs))
	if st.Receives > 0 {
		st.GapMean = float64(gapSum) / float64(st.Receives)
	}
	return st
}

func rateOf(stats []ProcessStats, id domain.ProcessID) int {
	for _, st := range stats {
		if st.Process == id {
			return st.TickRate
		}
	}
	return 0
}
