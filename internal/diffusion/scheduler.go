package diffusion

import "fmt"

// Scheduler identifies a noise scheduler used during sampling.
type Scheduler string

const (
	SchedulerEuler          Scheduler = "euler"
	SchedulerEulerAncestral Scheduler = "euler-a"
	SchedulerFlowMatchEuler Scheduler = "flow-match"
	SchedulerUniPC          Scheduler = "unipc"
	SchedulerDDIM           Scheduler = "ddim"
	SchedulerDDPM           Scheduler = "ddpm"
)

var schedulerNames = map[string]Scheduler{
	"euler":      SchedulerEuler,
	"euler-a":    SchedulerEulerAncestral,
	"flow-match": SchedulerFlowMatchEuler,
	"unipc":      SchedulerUniPC,
	"ddim":       SchedulerDDIM,
	"ddpm":       SchedulerDDPM,
}

func ParseScheduler(name string) (Scheduler, error) {
	if s, ok := schedulerNames[name]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown noise scheduler %q", name)
}

// SchedulerFor resolves the scheduler a validation run should sample with.
// Flow matching families are not swappable, they always use their trained
// flow-match scheduler. DeepFloyd pipelines only sample correctly with DDPM.
// An empty choice keeps the pipeline default (empty return).
func SchedulerFor(family ModelFamily, choice string) (Scheduler, error) {
	if family.IsFlowMatching() {
		return SchedulerFlowMatchEuler, nil
	}
	if family.IsDeepFloyd() {
		return SchedulerDDPM, nil
	}
	if choice == "" {
		return "", nil
	}
	return ParseScheduler(choice)
}
