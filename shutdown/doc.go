// Package shutdown provides graceful shutdown coordination for long-running processes.
//
// # Overview
//
// Shutdown work is grouped into named phases. Phases form a dependency
// graph: a phase runs only after every phase it depends on has finished.
// Tasks registered against one phase run concurrently; phases run one after
// another. Every phase has a timeout, so no phase blocks forever, and the
// whole sequence runs at most once no matter how many triggers fire.
//
// # Architecture
//
//	                 Run() / RunFrom() / SIGTERM / Runtime end
//	                                  │
//	                                  ▼
//	┌──────────────────────────────────────────────────────────────────┐
//	│                          Coordinator                             │
//	│              (single run, first reason wins)                     │
//	├──────────────────────────────────────────────────────────────────┤
//	│  ┌─────────────┐   ┌─────────────┐   ┌──────────────────┐        │
//	│  │ service-stop│ → │cluster-leave│ → │runtime-terminate │ ...    │
//	│  │ task A, B   │   │ task C      │   │ terminate-runtime│        │
//	│  └─────────────┘   └─────────────┘   └──────────────────┘        │
//	│       each phase: all tasks concurrently, raced with timeout     │
//	└──────────────────────────────────────────────────────────────────┘
//
// # Usage
//
//	coord, err := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	coord.HandleSignals() // SIGTERM, SIGINT
//
//	coord.AddTask(shutdown.PhaseServiceUnbind, "http-listener", func(ctx context.Context) error {
//	    return server.Shutdown(ctx)
//	})
//	coord.AddTask(shutdown.PhaseServiceStop, "database", func(ctx context.Context) error {
//	    return db.Close()
//	})
//
//	<-coord.Done()
//
// Tasks should return when ctx is cancelled. The context ends once the
// executor stops waiting for the phase, which happens early when the phase
// times out.
//
// # Phases
//
// DefaultPhases mirrors a typical service lifecycle, from
// before-service-unbind to runtime-terminate. A custom graph can be given in
// Config.Phases or loaded from TOML:
//
//	default_timeout = "5s"
//
//	[phases.drain-queue]
//	depends_on = ["service-unbind"]
//	timeout = "30s"
//	recover = false
//
// A phase that times out with recover = false ends the run with a
// SHUTDOWN_TIMEOUT error and no later phase runs. Task errors never fail a run.
package shutdown
