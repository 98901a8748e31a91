package netcmd

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"

	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/netsync/merkle"
)

func testNode() *merkle.Node {
	tab := merkle.NewTable(types.RevisionItem)
	for i := range 40 {
		tab.Insert(types.RevisionItem, types.CalcID([]byte{byte(i)}), 0)
	}
	tab.Recalculate(types.EmptyID, 0)
	root, _ := tab.Node(0, types.EmptyID)
	return root
}

func TestPayloadRoundTrip(t *testing.T) {
	large := bytes.Repeat([]byte("netsync payload "), 1024)
	payloads := []Payload{
		&Error{Code: NotPermitted, Message: "permission denied for branch"},
		&Bye{Phase: 2},
		&Hello{
			Key:    types.PublicKey{Name: "server@example.net", Pub: [32]byte{1, 2, 3}},
			BoxKey: [32]byte{4, 5, 6},
			Nonce:  [NonceSize]byte{7},
		},
		&Anonymous{Role: SinkRole, Include: "net.example.*", Exclude: "*.wip", SessionKey: []byte("sealed")},
		&Auth{
			Role:       SourceAndSinkRole,
			Include:    "*",
			Client:     types.ID{9},
			Nonce:      [NonceSize]byte{10},
			SessionKey: []byte("sealed"),
			Signature:  []byte("signature"),
		},
		&Confirm{},
		&Refine{Type: Response, Node: testNode()},
		&Done{Type: types.CertItem, Count: 300},
		&Data{Type: types.FileItem, ID: types.ID{1}, Data: []byte("small")},
		&Data{Type: types.FileItem, ID: types.ID{2}, Data: large},
		&Delta{Type: types.FileItem, Base: types.ID{3}, ID: types.ID{4}, Delta: large},
		&Usher{Greeting: "netsync"},
		&UsherReply{Server: "example.net", Include: "*"},
	}
	for _, version := range []uint8{MinVersion, MaxVersion} {
		for _, p := range payloads {
			cmd, err := New(version, p)
			require.NoError(t, err)
			require.Equal(t, p.CmdCode(), cmd.Code)

			got, err := Parse(cmd)
			require.NoError(t, err, "%s v%d", p.CmdCode(), version)
			require.Equal(t, p, got)
		}
	}
}

func TestRandomPayloadsOverTheWire(t *testing.T) {
	f := fuzz.NewWithSeed(1001).NilChance(0).Funcs(
		func(r *Role, c fuzz.Continue) {
			*r = SourceRole + Role(c.Intn(3))
		},
		func(t *types.ItemType, c fuzz.Continue) {
			*t = types.RefinedItemTypes[c.Intn(len(types.RefinedItemTypes))]
		},
		func(code *ErrorCode, c fuzz.Continue) {
			*code = ErrorCode(100 + c.Intn(900))
		},
	)
	fresh := []func() Payload{
		func() Payload { return &Error{} },
		func() Payload { return &Hello{} },
		func() Payload { return &Anonymous{} },
		func() Payload { return &Auth{} },
		func() Payload { return &Done{} },
		func() Payload { return &Data{} },
		func() Payload { return &Delta{} },
		func() Payload { return &Usher{} },
		func() Payload { return &UsherReply{} },
	}
	key := bytes.Repeat([]byte{7}, SessionKeySize)
	out, in := NewChainedHMAC(key), NewChainedHMAC(key)
	for range 50 {
		for _, version := range []uint8{MinVersion, MaxVersion} {
			for _, mk := range fresh {
				p := mk()
				f.Fuzz(p)
				cmd, err := New(version, p)
				require.NoError(t, err)

				buf := Write(nil, cmd, out)
				read, n, err := Read(buf, in, DefaultLimits())
				require.NoError(t, err, "%s v%d", p.CmdCode(), version)
				require.Equal(t, len(buf), n)
				got, err := Parse(read)
				require.NoError(t, err, "%s v%d", p.CmdCode(), version)
				require.Empty(t, cmp.Diff(p, got, cmpopts.EquateEmpty()), "%s v%d", p.CmdCode(), version)
			}
		}
	}
}

func TestDataCompression(t *testing.T) {
	large := bytes.Repeat([]byte{0xaa}, CompressThreshold+1)
	for version, flag := range map[uint8]Compression{6: Gzip, 7: Zstd} {
		cmd, err := New(version, &Data{Type: types.FileItem, Data: large})
		require.NoError(t, err)
		require.Equal(t, uint8(flag), cmd.Payload[1+types.IDSize])
		require.Less(t, len(cmd.Payload), len(large))
	}
	cmd, err := New(MaxVersion, &Data{Type: types.FileItem, Data: large[:CompressThreshold]})
	require.NoError(t, err)
	require.Equal(t, uint8(Raw), cmd.Payload[1+types.IDSize])
}

func TestPayloadDecodeErrors(t *testing.T) {
	for _, tc := range []struct {
		desc string
		cmd  *Cmd
	}{
		{"trailing bytes", &Cmd{Version: MaxVersion, Code: CodeBye, Payload: []byte{0, 0}}},
		{"empty bye", &Cmd{Version: MaxVersion, Code: CodeBye}},
		{"bad role", &Cmd{Version: MaxVersion, Code: CodeAnonymous, Payload: []byte{9, 0, 0, 0}}},
		{"unrefined done", &Cmd{Version: MaxVersion, Code: CodeDone, Payload: []byte{byte(types.FileItem), 0}}},
		{"bad item type", &Cmd{Version: MaxVersion, Code: CodeData, Payload: []byte{1}}},
		{"overrun", &Cmd{Version: MaxVersion, Code: CodeUsher, Payload: []byte{5, 'a'}}},
		{"bad compression", &Cmd{
			Version: MaxVersion,
			Code:    CodeData,
			Payload: append(append([]byte{byte(types.FileItem)}, make([]byte, types.IDSize)...), 7, 0),
		}},
		{"bad refinement", &Cmd{Version: MaxVersion, Code: CodeRefine, Payload: []byte{0, 1, 2}}},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := Parse(tc.cmd)
			require.ErrorIs(t, err, ErrBadDecode)
		})
	}

	var bye Bye
	err := (&Cmd{Version: MaxVersion, Code: CodeDone}).Decode(&bye)
	require.ErrorIs(t, err, ErrBadDecode)
}

func TestErrorText(t *testing.T) {
	code, msg := ParseErrorText("412 permission denied")
	require.Equal(t, NotPermitted, code)
	require.Equal(t, "permission denied", msg)

	code, msg = ParseErrorText("something broke")
	require.Zero(t, code)
	require.Equal(t, "something broke", msg)

	code, _ = ParseErrorText("042 too small")
	require.Zero(t, code)
}

func frame(t *testing.T, version uint8, p Payload, mac *ChainedHMAC) []byte {
	t.Helper()
	cmd, err := New(version, p)
	require.NoError(t, err)
	return Write(nil, cmd, mac)
}

func TestReadWrite(t *testing.T) {
	key := bytes.Repeat([]byte{1}, SessionKeySize)
	out := NewChainedHMAC(key)
	var buf []byte
	for phase := range 3 {
		cmd, err := New(MaxVersion, &Bye{Phase: uint8(phase)})
		require.NoError(t, err)
		buf = Write(buf, cmd, out)
	}

	in := NewChainedHMAC(key)
	for phase := range 3 {
		cmd, n, err := Read(buf, in, DefaultLimits())
		require.NoError(t, err)
		require.NotNil(t, cmd)
		require.Equal(t, cmd.EncodedSize(), n)
		var bye Bye
		require.NoError(t, cmd.Decode(&bye))
		require.EqualValues(t, phase, bye.Phase)
		buf = buf[n:]
	}
	require.Empty(t, buf)
}

func TestReadPartial(t *testing.T) {
	full := frame(t, MaxVersion, &Data{Type: types.FileItem, Data: []byte("content")}, NewChainedHMAC(nil))
	for i := range len(full) {
		cmd, n, err := Read(full[:i], NewChainedHMAC(nil), DefaultLimits())
		require.NoError(t, err)
		require.Nil(t, cmd)
		require.Zero(t, n)
	}
	cmd, n, err := Read(full, NewChainedHMAC(nil), DefaultLimits())
	require.NoError(t, err)
	require.NotNil(t, cmd)
	require.Equal(t, len(full), n)
}

func TestReadRejects(t *testing.T) {
	t.Run("wrong key", func(t *testing.T) {
		buf := frame(t, MaxVersion, &Confirm{}, NewChainedHMAC(bytes.Repeat([]byte{1}, 20)))
		_, _, err := Read(buf, NewChainedHMAC(bytes.Repeat([]byte{2}, 20)), DefaultLimits())
		require.ErrorIs(t, err, ErrBadDecode)
	})
	t.Run("replay", func(t *testing.T) {
		out, in := NewChainedHMAC(nil), NewChainedHMAC(nil)
		buf := frame(t, MaxVersion, &Confirm{}, out)
		_, _, err := Read(buf, in, DefaultLimits())
		require.NoError(t, err)
		_, _, err = Read(buf, in, DefaultLimits())
		require.ErrorIs(t, err, ErrBadDecode)
	})
	t.Run("unknown code", func(t *testing.T) {
		_, _, err := Read([]byte{MaxVersion, 42, 0}, NewChainedHMAC(nil), DefaultLimits())
		require.ErrorIs(t, err, ErrBadDecode)
	})
	t.Run("oversized", func(t *testing.T) {
		lim := DefaultLimits()
		lim.MaxPayload = 16
		buf := frame(t, MaxVersion, &Usher{Greeting: string(make([]byte, 32))}, nil)
		_, _, err := Read(buf, NewChainedHMAC(nil), lim)
		require.ErrorIs(t, err, ErrBadDecode)
	})
	t.Run("too old", func(t *testing.T) {
		buf := frame(t, MinVersion-1, &Confirm{}, NewChainedHMAC(nil))
		_, _, err := Read(buf, NewChainedHMAC(nil), DefaultLimits())
		require.ErrorIs(t, err, ErrBadDecode)
	})
	t.Run("too new", func(t *testing.T) {
		buf := frame(t, MaxVersion+1, &Confirm{}, NewChainedHMAC(nil))
		_, _, err := Read(buf, NewChainedHMAC(nil), DefaultLimits())
		require.ErrorIs(t, err, ErrBadDecode)
	})
}

func TestUsherFraming(t *testing.T) {
	mac := NewChainedHMAC(nil)
	usher := frame(t, UsherVersion, &Usher{Greeting: "netsync"}, mac)
	reply := frame(t, MaxVersion+3, &UsherReply{Server: "a", Include: "*"}, mac)
	require.Equal(t, NewChainedHMAC(nil), mac)

	in := NewChainedHMAC(nil)
	cmd, n, err := Read(usher, in, DefaultLimits())
	require.NoError(t, err)
	require.Equal(t, len(usher), n)
	require.Equal(t, CodeUsher, cmd.Code)

	cmd, _, err = Read(reply, in, DefaultLimits())
	require.NoError(t, err)
	require.Equal(t, MaxVersion+3, cmd.Version)
	require.Equal(t, NewChainedHMAC(nil), in)
}

func TestChainedHMACSetKeyKeepsChain(t *testing.T) {
	a, b := NewChainedHMAC(nil), NewChainedHMAC(nil)
	a.Process([]byte("hello"))
	b.Process([]byte("hello"))
	a.SetKey(bytes.Repeat([]byte{3}, 20))
	b.SetKey(bytes.Repeat([]byte{3}, 20))
	require.Equal(t, a.Process([]byte("x")), b.Process([]byte("x")))

	fresh := NewChainedHMAC(bytes.Repeat([]byte{3}, 20))
	require.NotEqual(t, fresh.Process([]byte("x")), NewChainedHMAC(nil).Process([]byte("x")))
}
