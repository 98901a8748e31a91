package netsync

import (
	"fmt"

	"go.uber.org/zap/zapcore"

	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/netsync/netcmd"
	"github.com/vcsnet/netsync/netsync/refiner"
)

// Voice is the side of the connection a session speaks for.
type Voice = refiner.Voice

const (
	ClientVoice = refiner.ClientVoice
	ServerVoice = refiner.ServerVoice
)

// State is the protocol state of a session.
type State uint8

const (
	Working State = iota
	Shutdown
	Confirmed
)

func (s State) String() string {
	switch s {
	case Working:
		return "working"
	case Shutdown:
		return "shutdown"
	case Confirmed:
		return "confirmed"
	}
	return fmt.Sprintf("<unknown state %d>", uint8(s))
}

// Identity of the remote peer. The zero value is anonymous.
type Identity struct {
	Key  types.ID
	Name string
}

// Anonymous reports whether the peer didn't authenticate.
func (id Identity) Anonymous() bool { return id.Key.IsEmpty() }

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (id Identity) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	if id.Anonymous() {
		encoder.AddString("name", "anonymous")
		return nil
	}
	encoder.AddString("name", id.Name)
	encoder.AddString("key", id.Key.ShortString())
	return nil
}

// SyncInfo describes a session once its service request is settled.
type SyncInfo struct {
	Session string
	Peer    string
	Voice   Voice
	Role    netcmd.Role
	Remote  Identity
	Include string
	Exclude string
}

// Counts tallies items moved in one direction.
type Counts map[types.ItemType]int

// Total returns the number of items of all types.
func (c Counts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Result summarizes a finished session.
type Result struct {
	SyncInfo
	// Code is NoError for a confirmed shutdown, NoTransfer or PartialTransfer
	// when the session failed without a coded error, else the error's code.
	Code     netcmd.ErrorCode
	Err      error
	BytesIn  uint64
	BytesOut uint64
	In       Counts
	Out      Counts
	// Received lists the revisions, certs and keys stored during the session.
	Received map[types.ItemType][]types.ID
	// DryRun is set when a dry run finished refinement.
	DryRun *Estimate
}

// Estimate is what a dry run found to transfer. Files are not counted, they
// are only known once revisions are enumerated.
type Estimate struct {
	In  Counts
	Out Counts
	// MoreKeys is set when the peer may send more keys than In counts.
	MoreKeys bool
}

// OK reports whether the session completed cleanly.
func (r *Result) OK() bool { return r.Code == netcmd.NoError }
