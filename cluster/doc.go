// Package cluster connects cluster membership to graceful shutdown.
//
// A Leader admits members on "cluster.join", removes them on
// "cluster.leave" and, given a heartbeat.Monitor, downs members that went
// silent by publishing "cluster.down.<id>". It can also ask a member to
// leave through "cluster.leave-requested.<id>".
//
// A Member joins through the leader and registers itself with a shutdown
// coordinator:
//
//	m, _ := cluster.New(cluster.Config{Bus: b, Heartbeat: sender})
//	m.Join(ctx)
//	m.Register(coord)
//
// Once registered, being downed runs shutdown with ReasonClusterDowning and
// a leave request runs it with ReasonClusterLeaving. During the run the
// cluster-leave phase leaves the cluster (skipped for a downed member) and
// cluster-exiting waits until the leader has removed the member.
package cluster
