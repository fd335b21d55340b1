package shutdown

import (
	"fmt"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	kerrors "github.com/vinayprograms/shutdownkit/errors"
)

// Built-in phase names, in execution order.
const (
	PhaseBeforeServiceUnbind    = "before-service-unbind"
	PhaseServiceUnbind          = "service-unbind"
	PhaseServiceRequestsDone    = "service-requests-done"
	PhaseServiceStop            = "service-stop"
	PhaseBeforeClusterShutdown  = "before-cluster-shutdown"
	PhaseClusterLeave           = "cluster-leave"
	PhaseClusterExiting         = "cluster-exiting"
	PhaseClusterExitingDone     = "cluster-exiting-done"
	PhaseClusterShutdown        = "cluster-shutdown"
	PhaseBeforeRuntimeTerminate = "before-runtime-terminate"
	PhaseRuntimeTerminate       = "runtime-terminate"
)

// DefaultTimeout is the phase timeout used when none is configured.
const DefaultTimeout = 5 * time.Second

// Phase is a named stage of shutdown.
type Phase struct {
	Name      string
	DependsOn []string
	Timeout   time.Duration
	Recover   bool
	Enabled   bool
}

func (p Phase) clone() Phase {
	p.DependsOn = slices.Clone(p.DependsOn)
	return p
}

// DefaultPhases returns the built-in lifecycle graph. Each phase depends on
// the one before it.
func DefaultPhases() map[string]Phase {
	names := []string{
		PhaseBeforeServiceUnbind,
		PhaseServiceUnbind,
		PhaseServiceRequestsDone,
		PhaseServiceStop,
		PhaseBeforeClusterShutdown,
		PhaseClusterLeave,
		PhaseClusterExiting,
		PhaseClusterExitingDone,
		PhaseClusterShutdown,
		PhaseBeforeRuntimeTerminate,
		PhaseRuntimeTerminate,
	}

	phases := make(map[string]Phase, len(names))
	for i, name := range names {
		p := Phase{Name: name, Timeout: DefaultTimeout, Recover: true, Enabled: true}
		if i > 0 {
			p.DependsOn = []string{names[i-1]}
		}
		switch name {
		case PhaseClusterExiting, PhaseRuntimeTerminate:
			p.Timeout = 10 * time.Second
		}
		phases[name] = p
	}
	return phases
}

// ComputeOrder returns the phase names in an order where every dependency
// precedes its dependents. Dependencies that are not keys of phases count as
// already satisfied and are left out of the result. Ties between independent
// phases are broken by name but callers should not rely on that.
func ComputeOrder(phases map[string]Phase) ([]string, error) {
	const (
		unvisited = iota
		inProgress
		done
	)

	marks := make(map[string]int, len(phases))
	order := make([]string, 0, len(phases))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		p, ok := phases[name]
		if !ok {
			return nil
		}
		switch marks[name] {
		case done:
			return nil
		case inProgress:
			start := slices.Index(path, name)
			cycle := append(slices.Clone(path[start:]), name)
			return kerrors.CycleDetected(cycle)
		}

		marks[name] = inProgress
		path = append(path, name)

		deps := slices.Clone(p.DependsOn)
		slices.Sort(deps)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}

		path = path[:len(path)-1]
		marks[name] = done
		order = append(order, name)
		return nil
	}

	names := maps.Keys(phases)
	slices.Sort(names)
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// VerifyOrder checks that order lists every phase exactly once and that each
// declared dependency comes before the phase depending on it.
func VerifyOrder(phases map[string]Phase, order []string) error {
	position := make(map[string]int, len(order))
	for i, name := range order {
		if _, ok := phases[name]; !ok {
			return kerrors.UnknownPhase(name)
		}
		if _, dup := position[name]; dup {
			return kerrors.Configuration(fmt.Sprintf("phase %q appears more than once", name), kerrors.WithPhase(name))
		}
		position[name] = i
	}

	for name, p := range phases {
		pos, ok := position[name]
		if !ok {
			return kerrors.Configuration(fmt.Sprintf("phase %q missing from order", name), kerrors.WithPhase(name))
		}
		for _, dep := range p.DependsOn {
			depPos, declared := position[dep]
			if !declared {
				continue
			}
			if depPos >= pos {
				return kerrors.Configuration(fmt.Sprintf("phase %q runs before its dependency %q", name, dep), kerrors.WithPhase(name))
			}
		}
	}
	return nil
}

// undeclaredDependencies lists "phase -> dep" for dependencies that name no phase.
func undeclaredDependencies(phases map[string]Phase) []string {
	var missing []string
	names := maps.Keys(phases)
	slices.Sort(names)
	for _, name := range names {
		for _, dep := range phases[name].DependsOn {
			if _, ok := phases[dep]; !ok {
				missing = append(missing, name+" -> "+dep)
			}
		}
	}
	return missing
}
