package netsync

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vcsnet/netsync/codec"
	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/globish"
	"github.com/vcsnet/netsync/log"
	"github.com/vcsnet/netsync/netsync/netcmd"
	"github.com/vcsnet/netsync/signing"
)

func decode(cmd *netcmd.Cmd, p netcmd.Payload) error {
	if err := cmd.Decode(p); err != nil {
		return wrapError(BadDecode, err, "decoding %s command", cmd.Code)
	}
	return nil
}

func (s *Session) dispatch(guard Checkpointer, cmd *netcmd.Cmd) error {
	switch cmd.Code {
	case netcmd.CodeError:
		return s.processError(cmd)
	case netcmd.CodeBye:
		return s.processBye(guard, cmd)
	}
	if !s.completedHello {
		switch {
		case cmd.Code == netcmd.CodeUsher && s.voice == ClientVoice:
			return s.processUsher(cmd)
		case cmd.Code == netcmd.CodeUsherReply && s.voice == ServerVoice:
			return s.processUsherReply(cmd)
		case cmd.Code == netcmd.CodeHello && s.voice == ClientVoice:
			return s.processHello(cmd)
		case cmd.Code == netcmd.CodeAnonymous && s.voice == ServerVoice,
			cmd.Code == netcmd.CodeAuth && s.voice == ServerVoice:
			return s.processServiceRequest(cmd)
		case cmd.Code == netcmd.CodeConfirm && s.voice == ClientVoice:
			return s.processConfirm(cmd)
		}
		return newError(BadCommand, "unexpected %s command received by %s before the handshake completed",
			cmd.Code, s.voice)
	}
	switch cmd.Code {
	case netcmd.CodeRefine:
		return s.processRefine(cmd)
	case netcmd.CodeDone:
		return s.processDone(cmd)
	case netcmd.CodeData:
		return s.processData(cmd)
	case netcmd.CodeDelta:
		return s.processDelta(cmd)
	}
	return newError(BadCommand, "unexpected %s command after the handshake", cmd.Code)
}

func (s *Session) processError(cmd *netcmd.Cmd) error {
	var e netcmd.Error
	if err := decode(cmd, &e); err != nil {
		return err
	}
	return &Error{Kind: kindOf(e.Code), Code: e.Code, Msg: e.Message, Remote: true}
}

func (s *Session) processUsher(cmd *netcmd.Cmd) error {
	var u netcmd.Usher
	if err := decode(cmd, &u); err != nil {
		return err
	}
	s.logger.Debug("received greeting", zap.String("greeting", u.Greeting))
	return s.writeVersion(s.cfg.MaxVersion, &netcmd.UsherReply{Server: s.peer, Include: s.include})
}

func (s *Session) processUsherReply(cmd *netcmd.Cmd) error {
	var u netcmd.UsherReply
	if err := decode(cmd, &u); err != nil {
		return err
	}
	if cmd.Version < s.cfg.MinVersion {
		return newError(MixingVersions, "client protocol version %d is older than the oldest supported %d",
			cmd.Version, s.cfg.MinVersion)
	}
	s.version = min(cmd.Version, s.cfg.MaxVersion)
	nonce, err := randomBytes(netcmd.NonceSize)
	if err != nil {
		return err
	}
	copy(s.nonce[:], nonce)
	s.logger.Debug("negotiated protocol version",
		zap.Uint8("version", s.version),
		zap.String("server", u.Server),
		zap.String("include", u.Include),
	)
	return s.write(&netcmd.Hello{
		Key:    s.signer.PublicKey(),
		BoxKey: s.signer.BoxKey().Public(),
		Nonce:  s.nonce,
	})
}

func (s *Session) processHello(cmd *netcmd.Cmd) error {
	var h netcmd.Hello
	if err := decode(cmd, &h); err != nil {
		return err
	}
	s.version = cmd.Version
	id := h.Key.ID()
	known, ok, err := s.repo.KnownServer(s.peer)
	if err != nil {
		return wrapError(LocalFailure, err, "known server")
	}
	switch {
	case ok && known != id:
		return newError(FailedIdentification, "server key changed: %s presented %s, expected %s",
			s.peer, id.ShortString(), known.ShortString())
	case !ok:
		s.logger.Info("first contact with server, remembering its key",
			zap.String("name", h.Key.Name),
			log.ZShortStringer("key", id),
		)
		if err := s.repo.RememberServer(s.peer, id); err != nil {
			return wrapError(LocalFailure, err, "remember server")
		}
	}
	exists, err := s.repo.Exists(types.KeyItem, id)
	if err != nil {
		return wrapError(LocalFailure, err, "server key")
	}
	if !exists {
		data, err := codec.Encode(&h.Key)
		if err != nil {
			return wrapError(LocalFailure, err, "encode server key")
		}
		if _, err := s.repo.Put(types.KeyItem, id, data); err != nil {
			return wrapError(LocalFailure, err, "store server key")
		}
	}
	s.remote = Identity{Key: id, Name: h.Key.Name}
	s.nonce = h.Nonce
	s.serverBox = h.BoxKey
	return s.requestService()
}

func (s *Session) requestService() error {
	branches, err := s.matchingBranches()
	if err != nil {
		return err
	}
	if err := s.rebuildMerkleTrees(branches); err != nil {
		return err
	}
	key, err := randomBytes(netcmd.SessionKeySize)
	if err != nil {
		return err
	}
	sealed, err := signing.Seal(s.serverBox[:], key)
	if err != nil {
		return wrapError(LocalFailure, err, "seal session key")
	}
	var req netcmd.Payload
	if s.signer != nil {
		req = &netcmd.Auth{
			Role:       s.role,
			Include:    s.include,
			Exclude:    s.exclude,
			Client:     s.signer.KeyID(),
			Nonce:      s.nonce,
			SessionKey: sealed,
			Signature:  s.signer.Sign(signing.AUTH, s.nonce[:]),
		}
	} else {
		req = &netcmd.Anonymous{
			Role:       s.role,
			Include:    s.include,
			Exclude:    s.exclude,
			SessionKey: sealed,
		}
	}
	// The request is authenticated with the old key, everything after it
	// with the new one.
	if err := s.write(req); err != nil {
		return err
	}
	if err := s.setSessionKey(key); err != nil {
		return err
	}
	s.noteStart()
	return nil
}

func (s *Session) processServiceRequest(cmd *netcmd.Cmd) error {
	var (
		role             netcmd.Role
		include, exclude string
		sealed           []byte
		auth             *netcmd.Auth
	)
	if cmd.Code == netcmd.CodeAuth {
		auth = &netcmd.Auth{}
		if err := decode(cmd, auth); err != nil {
			return err
		}
		role, include, exclude, sealed = auth.Role, auth.Include, auth.Exclude, auth.SessionKey
	} else {
		var anon netcmd.Anonymous
		if err := decode(cmd, &anon); err != nil {
			return err
		}
		role, include, exclude, sealed = anon.Role, anon.Include, anon.Exclude, anon.SessionKey
	}

	key, err := s.signer.BoxKey().Open(sealed)
	if err != nil {
		return wrapError(FailedIdentification, err, "opening session key")
	}
	if len(key) != netcmd.SessionKeySize {
		return newError(FailedIdentification, "session key of %d bytes", len(key))
	}
	if err := s.setSessionKey(key); err != nil {
		return err
	}

	if auth != nil {
		if err := s.authenticate(auth); err != nil {
			return err
		}
	}

	s.role = role.Corresponding()
	if s.role.Sends() && !s.allowed.Sends() || s.role.Receives() && !s.allowed.Receives() {
		return &Error{
			Kind: NotPermitted,
			Code: netcmd.RoleMismatch,
			Msg:  fmt.Sprintf("client requested role %s, this server only acts as %s", role, s.allowed),
		}
	}
	matcher, err := globish.NewMatcher(include, exclude)
	if err != nil {
		return wrapError(BadCommand, err, "branch patterns")
	}
	s.include, s.exclude, s.matcher = include, exclude, matcher
	if err := s.prepareToConfirm(); err != nil {
		return err
	}
	if err := s.write(&netcmd.Confirm{}); err != nil {
		return err
	}
	s.authenticated = true
	s.completedHello = true
	s.noteStart()
	return nil
}

// authenticate checks an auth request. A client whose key is unknown here
// continues anonymously.
func (s *Session) authenticate(auth *netcmd.Auth) error {
	exists, err := s.repo.Exists(types.KeyItem, auth.Client)
	if err != nil {
		return wrapError(LocalFailure, err, "client key")
	}
	if !exists {
		s.logger.Info("unknown client key, continuing anonymously", log.ZShortStringer("key", auth.Client))
		return nil
	}
	if auth.Nonce != s.nonce {
		return newError(FailedIdentification, "detected replay attack in auth netcmd")
	}
	key, err := s.repo.Key(auth.Client)
	if err != nil {
		return wrapError(LocalFailure, err, "load client key")
	}
	if !s.policy.CheckSignature(key, signing.AUTH, s.nonce[:], auth.Signature) {
		return newError(FailedIdentification, "bad client signature")
	}
	s.remote = Identity{Key: auth.Client, Name: key.Name}
	s.logger.Info("client authenticated", zap.Object("remote", s.remote))
	return nil
}

func (s *Session) prepareToConfirm() error {
	anonymous := s.remote.Anonymous()
	if anonymous && s.role != netcmd.SourceRole {
		return newError(NotPermitted, "rejected attempt at anonymous connection for write")
	}
	branches, err := s.matchingBranches()
	if err != nil {
		return err
	}
	for _, branch := range branches {
		if s.policy.ReadPermitted(branch, s.remote) {
			continue
		}
		if anonymous {
			return newError(NotPermitted, "anonymous access to branch '%s' denied by server", branch)
		}
		return newError(NotPermitted, "denied '%s' read permission for '%s' excluding '%s' because of branch '%s'",
			s.remote.Name, s.include, s.exclude, branch)
	}
	if s.role.Receives() && !s.policy.WritePermitted(s.remote) {
		return newError(NotPermitted, "denied '%s' write permission for '%s' excluding '%s'",
			s.remote.Name, s.include, s.exclude)
	}
	return s.rebuildMerkleTrees(branches)
}

func (s *Session) processConfirm(cmd *netcmd.Cmd) error {
	if err := decode(cmd, &netcmd.Confirm{}); err != nil {
		return err
	}
	s.authenticated = true
	s.completedHello = true
	s.logger.Debug("service request confirmed, beginning epoch refinement")
	s.epochs.BeginRefinement()
	return nil
}

func (s *Session) matchingBranches() ([]string, error) {
	all, err := s.repo.Branches()
	if err != nil {
		return nil, wrapError(LocalFailure, err, "list branches")
	}
	var branches []string
	for _, b := range all {
		if s.matcher.Matches(b) {
			branches = append(branches, b)
		}
	}
	return branches, nil
}
