package cluster

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vinayprograms/shutdownkit/bus"
)

// Common errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrNoLeader      = errors.New("no cluster leader")
	ErrNotMember     = errors.New("not a cluster member")
	ErrClosed        = errors.New("cluster membership closed")
)

// Subjects used between members and the leader.
const (
	SubjectJoin  = "cluster.join"
	SubjectLeave = "cluster.leave"

	SubjectDownPrefix           = "cluster.down."
	SubjectLeaveRequestedPrefix = "cluster.leave-requested."
)

// DownSubject is where the leader announces that memberID was downed.
func DownSubject(memberID string) string {
	return SubjectDownPrefix + memberID
}

// LeaveRequestedSubject is where the leader asks memberID to leave.
func LeaveRequestedSubject(memberID string) string {
	return SubjectLeaveRequestedPrefix + memberID
}

// Event is the payload of every membership message.
type Event struct {
	MemberID  string    `json:"member_id"`
	Timestamp time.Time `json:"timestamp"`
}

func newEvent(memberID string) []byte {
	data, _ := json.Marshal(Event{MemberID: memberID, Timestamp: time.Now()})
	return data
}

func parseEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return e, err
	}
	if e.MemberID == "" {
		return e, ErrNotMember
	}
	return e, nil
}

func requestErr(err error) error {
	if errors.Is(err, bus.ErrNoResponders) {
		return ErrNoLeader
	}
	return err
}
