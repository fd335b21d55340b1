// Package heartbeat provides liveness signals between cluster members.
//
// A Sender publishes a Heartbeat on heartbeat.<member-id> at a fixed
// interval. When stopped it publishes one last heartbeat with status
// "exiting" and closes Done, so a shutdown termination task can stop it
// and wait:
//
//	sender, _ := heartbeat.NewSender(heartbeat.SenderConfig{
//		Bus:      b,
//		MemberID: id,
//		Interval: time.Second,
//	})
//	sender.Start(ctx)
//	coord.AddTerminationTask(shutdown.PhaseClusterShutdown, "stop-heartbeat", sender, sender.Stop)
//
// A Monitor watches individual members and reports the ones that went
// silent or announced their exit:
//
//	mon, _ := heartbeat.NewMonitor(heartbeat.MonitorConfig{Bus: b, Timeout: 5 * time.Second})
//	mon.OnDead(func(id string) { leader.Down(id) })
//	mon.Watch(id)
//	mon.Start()
package heartbeat
