package netsync

import (
	"errors"

	"go.uber.org/zap"

	"github.com/vcsnet/netsync/codec"
	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/log"
	"github.com/vcsnet/netsync/netsync/merkle"
	"github.com/vcsnet/netsync/netsync/netcmd"
	"github.com/vcsnet/netsync/netsync/refiner"
	"github.com/vcsnet/netsync/signing"
)

func (s *Session) refinerFor(t types.ItemType) *refiner.Refiner {
	switch t {
	case types.EpochItem:
		return s.epochs
	case types.KeyItem:
		return s.keys
	case types.CertItem:
		return s.certs
	case types.RevisionItem:
		return s.revs
	}
	return nil
}

func (s *Session) refiners() [4]*refiner.Refiner {
	return [...]*refiner.Refiner{s.epochs, s.keys, s.certs, s.revs}
}

// rebuildMerkleTrees indexes the items on branches that take part in the
// session: the branch certs, their revisions with all ancestors, the other
// certs on those revisions, the keys that signed them and the branch epochs.
func (s *Session) rebuildMerkleTrees(branches []string) error {
	s.logger.Debug("rebuilding merkle trees", zap.Strings("branches", branches))
	revs := map[types.ID]struct{}{}
	keys := map[types.ID]struct{}{}
	for _, branch := range branches {
		ids, err := s.repo.BranchCerts(branch)
		if err != nil {
			return wrapError(LocalFailure, err, "certs of branch %s", branch)
		}
		for _, id := range ids {
			cert, err := s.repo.Cert(id)
			if err != nil {
				return wrapError(LocalFailure, err, "load cert %s", id.ShortString())
			}
			if err := s.insertWithParents(cert.Revision, revs); err != nil {
				return err
			}
			if _, ok := revs[cert.Revision]; !ok {
				s.logger.Warn("ignoring branch cert on missing revision",
					zap.String("branch", branch),
					log.ZShortStringer("cert", id),
				)
				continue
			}
			s.certs.NoteLocalItem(id)
			s.enum.NoteCert(cert.Revision, id)
			keys[cert.Key] = struct{}{}
		}

		epoch, ok, err := s.repo.EpochFor(branch)
		if err != nil {
			return wrapError(LocalFailure, err, "epoch of branch %s", branch)
		}
		if !ok && !s.dryRun {
			s.logger.Debug("setting zero epoch", zap.String("branch", branch))
			if err := s.repo.SetEpoch(branch, types.ZeroEpoch); err != nil {
				return wrapError(LocalFailure, err, "set epoch of branch %s", branch)
			}
		}
		s.epochs.NoteLocalItem((&types.Epoch{Branch: branch, Value: epoch}).ID())
	}

	for rev := range revs {
		ids, err := s.repo.RevisionCerts(rev)
		if err != nil {
			return wrapError(LocalFailure, err, "certs of %s", rev.ShortString())
		}
		for _, id := range ids {
			cert, err := s.repo.Cert(id)
			if err != nil {
				return wrapError(LocalFailure, err, "load cert %s", id.ShortString())
			}
			// Branch certs of branches outside the session stay private.
			if cert.IsBranch() {
				continue
			}
			s.certs.NoteLocalItem(id)
			s.enum.NoteCert(rev, id)
			keys[cert.Key] = struct{}{}
		}
	}

	for _, key := range s.keysToPush {
		keys[key] = struct{}{}
	}
	if s.signer != nil {
		keys[s.signer.KeyID()] = struct{}{}
	}
	for key := range keys {
		exists, err := s.repo.Exists(types.KeyItem, key)
		if err != nil {
			return wrapError(LocalFailure, err, "key %s", key.ShortString())
		}
		if exists {
			s.keys.NoteLocalItem(key)
		}
	}

	for _, r := range s.refiners() {
		r.Reindex()
	}
	s.logger.Debug("merkle trees rebuilt",
		zap.Int("epochs", s.epochs.LocalItems()),
		zap.Int("keys", s.keys.LocalItems()),
		zap.Int("certs", s.certs.LocalItems()),
		zap.Int("revisions", s.revs.LocalItems()),
	)
	return nil
}

// insertWithParents adds rev and its ancestors to revs. Missing revisions
// are not added.
func (s *Session) insertWithParents(rev types.ID, revs map[types.ID]struct{}) error {
	queue := []types.ID{rev}
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		if _, ok := revs[r]; ok || r.IsEmpty() {
			continue
		}
		exists, err := s.repo.Exists(types.RevisionItem, r)
		if err != nil {
			return wrapError(LocalFailure, err, "revision %s", r.ShortString())
		}
		if !exists {
			s.logger.Debug("skipping missing revision", log.ZShortStringer("id", r))
			continue
		}
		revs[r] = struct{}{}
		s.revs.NoteLocalItem(r)
		s.enum.NoteRevision(r)
		parents, err := s.repo.Parents(r)
		if err != nil {
			return wrapError(LocalFailure, err, "parents of %s", r.ShortString())
		}
		queue = append(queue, parents...)
	}
	return nil
}

func (s *Session) processRefine(cmd *netcmd.Cmd) error {
	if !s.authenticated {
		return newError(BadDecode, "refine command received when not authenticated")
	}
	var p netcmd.Refine
	if err := decode(cmd, &p); err != nil {
		return err
	}
	refineCommands.WithLabelValues(p.Type.String()).Inc()
	if err := s.refinerFor(p.Node.Type).ProcessRefinement(p.Type, p.Node); err != nil {
		return wrapError(BadCommand, err, "%s refinement", p.Node.Type)
	}
	return nil
}

func (s *Session) processDone(cmd *netcmd.Cmd) error {
	if !s.authenticated {
		return newError(BadDecode, "done command received when not authenticated")
	}
	var p netcmd.Done
	if err := decode(cmd, &p); err != nil {
		return err
	}
	r := s.refinerFor(p.Type)
	if err := r.ProcessDone(p.Count); err != nil {
		return wrapError(BadCommand, err, "%s done", p.Type)
	}
	switch p.Type {
	case types.EpochItem:
		if err := s.sendAllData(r); err != nil {
			return err
		}
		return s.maybeNoteEpochsFinished()
	case types.KeyItem:
		if s.role != netcmd.SinkRole {
			return s.sendAllData(r)
		}
	}
	return nil
}

// sendAllData sends every item the refiner found the peer lacking. Certs
// and revisions are sent by the enumerator instead, in ancestry order.
func (s *Session) sendAllData(r *refiner.Refiner) error {
	for _, id := range r.ItemsToSend() {
		exists, err := s.repo.Exists(r.Type(), id)
		if err != nil {
			return wrapError(LocalFailure, err, "%s %s", r.Type(), id.ShortString())
		}
		if !exists {
			continue
		}
		data, err := s.repo.Get(r.Type(), id)
		if err != nil {
			return wrapError(LocalFailure, err, "load %s %s", r.Type(), id.ShortString())
		}
		if err := s.queueData(r.Type(), id, data); err != nil {
			return err
		}
	}
	return nil
}

// maybeNoteEpochsFinished starts the refinement of keys, certs and
// revisions on the client once the epochs are settled.
func (s *Session) maybeNoteEpochsFinished() error {
	switch {
	case s.epochs.ItemsToReceive() != 0 && s.role != netcmd.SourceRole,
		!s.epochs.Done(),
		s.encounteredError,
		s.refiningItems:
		return nil
	}
	if s.voice != ClientVoice {
		return nil
	}
	s.refiningItems = true
	s.logger.Debug("epochs settled, refining keys, certs and revisions")
	s.keys.BeginRefinement()
	s.certs.BeginRefinement()
	s.revs.BeginRefinement()
	return nil
}

func (s *Session) noteItemArrived(t types.ItemType, id types.ID) error {
	s.in[t]++
	itemsTransferred.WithLabelValues(dirIn, t.String()).Inc()
	if t == types.FileItem {
		return nil
	}
	if err := s.refinerFor(t).NoteItemArrived(); err != nil {
		return wrapError(BadCommand, err, "%s %s arrived", t, id.ShortString())
	}
	return nil
}

func (s *Session) dataExists(t types.ItemType, id types.ID) (bool, error) {
	if r := s.refinerFor(t); r != nil && r.LocalItemExists(id) {
		return true, nil
	}
	exists, err := s.repo.Exists(t, id)
	if err != nil {
		return false, wrapError(LocalFailure, err, "%s %s", t, id.ShortString())
	}
	return exists, nil
}

func (s *Session) noteReceived(t types.ItemType, id types.ID) {
	if t == types.RevisionItem || t == types.CertItem || t == types.KeyItem {
		s.received[t] = append(s.received[t], id)
	}
}

func (s *Session) processData(cmd *netcmd.Cmd) error {
	if !s.authenticated {
		return newError(BadDecode, "data command received when not authenticated")
	}
	if !s.role.Receives() {
		return newError(BadDecode, "data command received in %s role", s.role)
	}
	var p netcmd.Data
	if err := decode(cmd, &p); err != nil {
		return err
	}
	if err := s.noteItemArrived(p.Type, p.ID); err != nil {
		return err
	}
	exists, err := s.dataExists(p.Type, p.ID)
	if err != nil {
		return err
	}
	if exists {
		s.logger.Debug("already have item", zap.Stringer("type", p.Type), log.ZShortStringer("id", p.ID))
		if p.Type == types.EpochItem {
			return s.maybeNoteEpochsFinished()
		}
		return nil
	}
	if got := types.CalcID(p.Data); got != p.ID {
		return newError(BadDecode, "hash check failed for %s %s, data hashes to %s",
			p.Type, p.ID.ShortString(), got.ShortString())
	}

	switch p.Type {
	case types.EpochItem:
		return s.receiveEpoch(&p)
	case types.CertItem:
		var cert types.Cert
		if err := codec.Decode(p.Data, &cert); err != nil {
			return wrapError(BadDecode, err, "decoding cert %s", p.ID.ShortString())
		}
		if ok, err := s.verifyCert(&cert); err != nil || !ok {
			return err
		}
	}
	if s.dryRun {
		return nil
	}
	if _, err := s.repo.Put(p.Type, p.ID, p.Data); err != nil {
		return wrapError(LocalFailure, err, "store %s %s", p.Type, p.ID.ShortString())
	}
	s.noteReceived(p.Type, p.ID)
	return nil
}

func (s *Session) receiveEpoch(p *netcmd.Data) error {
	var epoch types.Epoch
	if err := codec.Decode(p.Data, &epoch); err != nil {
		return wrapError(BadDecode, err, "decoding epoch %s", p.ID.ShortString())
	}
	mine, ok, err := s.repo.EpochFor(epoch.Branch)
	if err != nil {
		return wrapError(LocalFailure, err, "epoch of branch %s", epoch.Branch)
	}
	if ok && mine != epoch.Value {
		server, client := epoch.Value, mine
		if s.voice == ServerVoice {
			server, client = mine, epoch.Value
		}
		return newError(MixingVersions, "Mismatched epoch on branch %s. Server has '%s', client has '%s'.",
			epoch.Branch, server, client)
	}
	if s.dryRun {
		return s.maybeNoteEpochsFinished()
	}
	s.logger.Debug("setting epoch", zap.String("branch", epoch.Branch), zap.Stringer("epoch", epoch.Value))
	if _, err := s.repo.Put(types.EpochItem, p.ID, p.Data); err != nil {
		return wrapError(LocalFailure, err, "store epoch of branch %s", epoch.Branch)
	}
	return s.maybeNoteEpochsFinished()
}

// verifyCert reports whether a received cert should be stored. Certs that
// fail verification or sit on a missing revision are dropped with a warning.
func (s *Session) verifyCert(cert *types.Cert) (bool, error) {
	exists, err := s.repo.Exists(types.RevisionItem, cert.Revision)
	if err != nil {
		return false, wrapError(LocalFailure, err, "cert revision %s", cert.Revision.ShortString())
	}
	if !exists {
		s.logger.Warn("dropping cert on missing revision", zap.Object("cert", cert))
		droppedCerts.WithLabelValues("missing_revision").Inc()
		return false, nil
	}
	exists, err = s.repo.Exists(types.KeyItem, cert.Key)
	if err != nil {
		return false, wrapError(LocalFailure, err, "cert key %s", cert.Key.ShortString())
	}
	if !exists {
		s.logger.Warn("dropping cert signed by unknown key",
			zap.Int("code", int(netcmd.UnknownKey)),
			zap.Object("cert", cert),
		)
		droppedCerts.WithLabelValues("unknown_key").Inc()
		return false, nil
	}
	key, err := s.repo.Key(cert.Key)
	if err != nil {
		return false, wrapError(LocalFailure, err, "load key %s", cert.Key.ShortString())
	}
	if !s.policy.CheckSignature(key, signing.CERT, cert.SignedBytes(), cert.Signature) {
		s.logger.Warn("dropping cert with bad signature", zap.Object("cert", cert))
		droppedCerts.WithLabelValues("bad_signature").Inc()
		return false, nil
	}
	return true, nil
}

func (s *Session) processDelta(cmd *netcmd.Cmd) error {
	if !s.authenticated {
		return newError(BadDecode, "delta command received when not authenticated")
	}
	if !s.role.Receives() {
		return newError(BadDecode, "delta command received in %s role", s.role)
	}
	var p netcmd.Delta
	if err := decode(cmd, &p); err != nil {
		return err
	}
	if err := s.noteItemArrived(p.Type, p.ID); err != nil {
		return err
	}
	exists, err := s.dataExists(p.Type, p.ID)
	if err != nil {
		return err
	}
	if exists {
		s.logger.Debug("already have delta target", zap.Stringer("type", p.Type), log.ZShortStringer("id", p.ID))
		return nil
	}
	base, err := s.dataExists(p.Type, p.Base)
	if err != nil {
		return err
	}
	if !base {
		return newError(BadCommand, "base %s of delta to %s is missing", p.Base.ShortString(), p.ID.ShortString())
	}
	if s.dryRun {
		return nil
	}
	if _, err := s.repo.PutDelta(p.Type, p.Base, p.ID, p.Delta); err != nil {
		return wrapError(BadDecode, err, "applying delta to %s", p.ID.ShortString())
	}
	s.noteReceived(p.Type, p.ID)
	return nil
}

func (s *Session) queueData(t types.ItemType, id types.ID, data []byte) error {
	if s.role == netcmd.SinkRole || s.dryRun {
		return nil
	}
	if err := s.write(&netcmd.Data{Type: t, ID: id, Data: data}); err != nil {
		return err
	}
	s.noteItemSent(t, id)
	return nil
}

func (s *Session) queueDelta(t types.ItemType, base, id types.ID, delta []byte) error {
	if s.role == netcmd.SinkRole || s.dryRun {
		return nil
	}
	if err := s.write(&netcmd.Delta{Type: t, Base: base, ID: id, Delta: delta}); err != nil {
		return err
	}
	s.noteItemSent(t, id)
	return nil
}

func (s *Session) noteItemSent(t types.ItemType, id types.ID) {
	s.out[t]++
	itemsTransferred.WithLabelValues(dirOut, t.String()).Inc()
	if r := s.refinerFor(t); r != nil {
		r.NoteItemSent(id)
	}
}

func (s *Session) doneAllRefinements() bool {
	for _, r := range s.refiners() {
		if !r.Done() {
			return false
		}
	}
	return true
}

func (s *Session) receivedAllItems() bool {
	if s.role == netcmd.SourceRole {
		return true
	}
	for _, r := range s.refiners() {
		if r.ItemsToReceive() != 0 {
			return false
		}
	}
	return true
}

func (s *Session) queuedAllItems() bool {
	if s.role == netcmd.SinkRole {
		return true
	}
	for _, r := range s.refiners() {
		if r.PendingSends() != 0 {
			return false
		}
	}
	return true
}

func (s *Session) finishedWorking() bool {
	return s.doneAllRefinements() &&
		s.receivedAllItems() &&
		s.queuedAllItems() &&
		s.enum.Done()
}

// dryRunFinished reports whether a dry run has refined everything it
// reports on. The key done is held back, so the peer never starts sending.
func (s *Session) dryRunFinished() bool {
	if !s.dryRun || !s.keysRefined || !s.revs.Done() || !s.certs.Done() {
		return false
	}
	if s.estimate != nil {
		return true
	}
	est := &Estimate{In: Counts{}, Out: Counts{}}
	if s.role.Receives() {
		est.In[types.RevisionItem] = int(s.revs.ItemsToReceive())
		est.In[types.CertItem] = int(s.certs.ItemsToReceive())
		est.In[types.KeyItem], est.MoreKeys = s.keys.PeerOnlyItems()
	}
	if s.role != netcmd.SinkRole {
		est.Out[types.RevisionItem] = s.revs.PendingSends()
		est.Out[types.CertItem] = s.certs.PendingSends()
		est.Out[types.KeyItem] = s.keys.PendingSends()
	}
	s.estimate = est
	s.logger.Info("dry run finished",
		zap.Int("revisions in", est.In[types.RevisionItem]),
		zap.Int("certs in", est.In[types.CertItem]),
		zap.Int("keys in", est.In[types.KeyItem]),
		zap.Int("revisions out", est.Out[types.RevisionItem]),
		zap.Int("certs out", est.Out[types.CertItem]),
		zap.Int("keys out", est.Out[types.KeyItem]),
	)
	return true
}

func (s *Session) haveWork() bool {
	return s.doneAllRefinements() && !s.enum.Done() && !s.outputOverfull()
}

// maybeStep enumerates items to send until the output fills up or the step
// budget runs out.
func (s *Session) maybeStep() error {
	deadline := s.clock.Now().Add(s.cfg.StepBudget)
	for s.haveWork() && s.clock.Now().Before(deadline) {
		if err := s.enum.Step(); err != nil {
			var serr *Error
			if errors.As(err, &serr) {
				return serr
			}
			return wrapError(LocalFailure, err, "enumerating items")
		}
	}
	return nil
}

// itemSender receives the callbacks of the refiners and the enumerator.
type itemSender struct {
	*Session
}

func (c itemSender) QueueRefine(typ netcmd.RefinementType, node *merkle.Node) {
	c.queue(&netcmd.Refine{Type: typ, Node: node})
}

func (c itemSender) QueueDone(t types.ItemType, count uint64) {
	if c.dryRun && t == types.KeyItem {
		c.keysRefined = true
		return
	}
	c.queue(&netcmd.Done{Type: t, Count: count})
}

func (c itemSender) ProcessThisRev(rev types.ID) bool {
	return c.revs.ShouldSend(rev)
}

func (c itemSender) QueueThisCert(cert types.ID) bool {
	return c.certs.ShouldSend(cert)
}

func (c itemSender) QueueThisFile(file types.ID) bool {
	_, sent := c.filesSent[file]
	return !sent
}

func (c itemSender) NoteFileData(file types.ID) error {
	if c.role == netcmd.SinkRole {
		return nil
	}
	data, err := c.repo.Get(types.FileItem, file)
	if err != nil {
		return wrapError(LocalFailure, err, "load file %s", file.ShortString())
	}
	c.filesSent[file] = struct{}{}
	return c.queueData(types.FileItem, file, data)
}

func (c itemSender) NoteFileDelta(base, target types.ID) error {
	if c.role == netcmd.SinkRole {
		return nil
	}
	delta, err := c.repo.Delta(types.FileItem, base, target)
	if err != nil {
		return wrapError(LocalFailure, err, "delta %s to %s", base.ShortString(), target.ShortString())
	}
	c.filesSent[target] = struct{}{}
	return c.queueDelta(types.FileItem, base, target, delta)
}

func (c itemSender) NoteRev(rev types.ID) error {
	return c.sendStored(types.RevisionItem, rev)
}

func (c itemSender) NoteCert(cert types.ID) error {
	return c.sendStored(types.CertItem, cert)
}

func (c itemSender) sendStored(t types.ItemType, id types.ID) error {
	if c.role == netcmd.SinkRole {
		return nil
	}
	data, err := c.repo.Get(t, id)
	if err != nil {
		return wrapError(LocalFailure, err, "load %s %s", t, id.ShortString())
	}
	return c.queueData(t, id, data)
}
