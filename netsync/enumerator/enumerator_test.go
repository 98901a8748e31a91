package enumerator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/log/logtest"
	"github.com/vcsnet/netsync/repo"
	"github.com/vcsnet/netsync/signing"
	"github.com/vcsnet/netsync/sql"
)

type emitted struct {
	kind string
	base types.ID
	id   types.ID
}

type recorder struct {
	revs      map[types.ID]bool
	certs     map[types.ID]bool
	filesSent map[types.ID]bool
	out       []emitted
}

func newRecorder() *recorder {
	return &recorder{
		revs:      map[types.ID]bool{},
		certs:     map[types.ID]bool{},
		filesSent: map[types.ID]bool{},
	}
}

func (r *recorder) ProcessThisRev(rev types.ID) bool { return r.revs[rev] }
func (r *recorder) QueueThisCert(c types.ID) bool    { return r.certs[c] }
func (r *recorder) QueueThisFile(f types.ID) bool    { return !r.filesSent[f] }

func (r *recorder) NoteFileData(f types.ID) error {
	r.filesSent[f] = true
	r.out = append(r.out, emitted{kind: "data", id: f})
	return nil
}

func (r *recorder) NoteFileDelta(base, target types.ID) error {
	r.filesSent[target] = true
	r.out = append(r.out, emitted{kind: "delta", base: base, id: target})
	return nil
}

func (r *recorder) NoteRev(rev types.ID) error {
	r.out = append(r.out, emitted{kind: "rev", id: rev})
	return nil
}

func (r *recorder) NoteCert(c types.ID) error {
	r.out = append(r.out, emitted{kind: "cert", id: c})
	return nil
}

func (r *recorder) revisions() []types.ID {
	var out []types.ID
	for _, e := range r.out {
		if e.kind == "rev" {
			out = append(out, e.id)
		}
	}
	return out
}

type history struct {
	t      *testing.T
	repo   *repo.Repository
	signer *signing.EdSigner
}

func newHistory(t *testing.T) *history {
	signer, err := signing.NewEdSigner(signing.WithName("enumerator@example.com"))
	require.NoError(t, err)
	return &history{
		t:      t,
		repo:   repo.New(sql.InMemory(), repo.WithLogger(logtest.New(t))),
		signer: signer,
	}
}

func (h *history) file(content string) types.ID {
	id, err := h.repo.AddFile([]byte(content))
	require.NoError(h.t, err)
	return id
}

func (h *history) commit(msg string, changes []types.FileChange, parents ...types.ID) types.ID {
	id, err := h.repo.AddRevision(&types.Revision{Parents: parents, Changes: changes, Message: msg})
	require.NoError(h.t, err)
	return id
}

func (h *history) enumerate(rec *recorder, scope ...types.ID) {
	e := New(h.repo, rec, WithLogger(logtest.New(h.t)))
	for _, rev := range scope {
		e.NoteRevision(rev)
		certs, err := h.repo.RevisionCerts(rev)
		require.NoError(h.t, err)
		for _, c := range certs {
			e.NoteCert(rev, c)
		}
	}
	for i := 0; !e.Done(); i++ {
		require.Less(h.t, i, 1000, "enumerator did not finish")
		require.NoError(h.t, e.Step())
	}
}

func TestParentBeforeChild(t *testing.T) {
	h := newHistory(t)
	f1 := h.file("one")
	r1 := h.commit("r1", []types.FileChange{{Path: "a", Target: f1}})
	f2 := h.file("two")
	r2 := h.commit("r2", []types.FileChange{{Path: "a", Base: f1, Target: f2}}, r1)

	rec := newRecorder()
	rec.revs[r1], rec.revs[r2] = true, true
	h.enumerate(rec, r2, r1)

	require.Equal(t, []emitted{
		{kind: "data", id: f1},
		{kind: "rev", id: r1},
		{kind: "delta", base: f1, id: f2},
		{kind: "rev", id: r2},
	}, rec.out)
}

func TestDiamondAncestry(t *testing.T) {
	h := newHistory(t)
	root := h.commit("root", nil)
	left := h.commit("left", nil, root)
	right := h.commit("right", nil, root)
	merge := h.commit("merge", nil, left, right)
	all := []types.ID{root, left, right, merge}
	for i := range 5 {
		all = append(all, h.commit(fmt.Sprintf("tip %d", i), nil, all[len(all)-1]))
	}

	rec := newRecorder()
	for _, rev := range all {
		rec.revs[rev] = true
	}
	h.enumerate(rec, all...)

	order := rec.revisions()
	require.ElementsMatch(t, all, order)
	position := map[types.ID]int{}
	for i, rev := range order {
		position[rev] = i
	}
	for _, rev := range order {
		parents, err := h.repo.Parents(rev)
		require.NoError(t, err)
		for _, p := range parents {
			require.Less(t, position[p], position[rev])
		}
	}
}

func TestOnlyMissingItems(t *testing.T) {
	h := newHistory(t)
	f1 := h.file("shared")
	r1 := h.commit("r1", []types.FileChange{{Path: "a", Target: f1}, {Path: "b", Target: f1}})
	r2 := h.commit("r2", []types.FileChange{{Path: "c", Target: f1}}, r1)
	c1, err := h.repo.AddToBranch(h.signer, r1, "main")
	require.NoError(t, err)
	c2, err := h.repo.AddToBranch(h.signer, r2, "main")
	require.NoError(t, err)

	rec := newRecorder()
	rec.revs[r2] = true
	rec.certs[c1], rec.certs[c2] = true, true
	h.enumerate(rec, r1, r2)

	require.Equal(t, []emitted{
		{kind: "cert", id: c1},
		{kind: "data", id: f1},
		{kind: "rev", id: r2},
		{kind: "cert", id: c2},
	}, rec.out)
}

func TestParentsOutsideScope(t *testing.T) {
	h := newHistory(t)
	r1 := h.commit("r1", nil)
	r2 := h.commit("r2", nil, r1)

	rec := newRecorder()
	rec.revs[r2] = true
	h.enumerate(rec, r2)
	require.Equal(t, []types.ID{r2}, rec.revisions())
}

func TestEmpty(t *testing.T) {
	e := New(nil, newRecorder())
	require.True(t, e.Done())
}
