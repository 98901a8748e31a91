package netsync

import (
	"github.com/vcsnet/netsync/netsync/netcmd"
)

// processBye runs the shutdown handshake:
//
//	client                      server
//	WORKING  -- bye 0 -->       WORKING  -> SHUTDOWN
//	SHUTDOWN <-- bye 1 --
//	CONFIRMED -- bye 2 -->      SHUTDOWN -> CONFIRMED
//
// Both sides commit their work when they enter SHUTDOWN.
func (s *Session) processBye(guard Checkpointer, cmd *netcmd.Cmd) error {
	var bye netcmd.Bye
	if err := decode(cmd, &bye); err != nil {
		return err
	}
	switch {
	case bye.Phase == 0 && s.voice == ServerVoice && s.state == Working:
		s.state = Shutdown
		if err := guard.Checkpoint(); err != nil {
			return wrapError(LocalFailure, err, "checkpoint")
		}
		return s.write(&netcmd.Bye{Phase: 1})
	case bye.Phase == 1 && s.voice == ClientVoice && s.state == Shutdown:
		s.state = Confirmed
		return s.write(&netcmd.Bye{Phase: 2})
	case bye.Phase == 2 && s.voice == ServerVoice && s.state == Shutdown:
		s.state = Confirmed
		return nil
	case bye.Phase <= 2:
		return newError(BadCommand, "unexpected bye phase %d received by %s in %s state",
			bye.Phase, s.voice, s.state)
	}
	return newError(BadCommand, "unknown bye phase %d received", bye.Phase)
}
