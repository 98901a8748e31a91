package netcmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/multiformats/go-varint"

	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/netsync/merkle"
	"github.com/vcsnet/netsync/signing"
)

// Payload is the decoded body of a command.
type Payload interface {
	CmdCode() Code
	encode(w *writer, version uint8) error
	decode(r *reader, version uint8)
}

// New encodes p into a command stamped with version.
func New(version uint8, p Payload) (*Cmd, error) {
	w := &writer{}
	if err := p.encode(w, version); err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.CmdCode(), err)
	}
	return &Cmd{Version: version, Code: p.CmdCode(), Payload: w.buf}, nil
}

// Parse decodes the payload of cmd into the type matching its code.
func Parse(cmd *Cmd) (Payload, error) {
	var p Payload
	switch cmd.Code {
	case CodeError:
		p = &Error{}
	case CodeBye:
		p = &Bye{}
	case CodeHello:
		p = &Hello{}
	case CodeAnonymous:
		p = &Anonymous{}
	case CodeAuth:
		p = &Auth{}
	case CodeConfirm:
		p = &Confirm{}
	case CodeRefine:
		p = &Refine{}
	case CodeDone:
		p = &Done{}
	case CodeData:
		p = &Data{}
	case CodeDelta:
		p = &Delta{}
	case CodeUsher:
		p = &Usher{}
	case CodeUsherReply:
		p = &UsherReply{}
	default:
		return nil, badDecode("unknown command code 0x%x", uint8(cmd.Code))
	}
	if err := cmd.Decode(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Decode decodes the payload of c into p, which must match the code of c.
func (c *Cmd) Decode(p Payload) error {
	if p.CmdCode() != c.Code {
		return badDecode("%s payload in %s command", p.CmdCode(), c.Code)
	}
	r := &reader{buf: c.Payload, cmd: c.Code}
	p.decode(r, c.Version)
	return r.finish()
}

type writer struct {
	buf []byte
}

func (w *writer) u8(b uint8) {
	w.buf = append(w.buf, b)
}

func (w *writer) uvarint(v uint64) {
	w.buf = append(w.buf, varint.ToUvarint(v)...)
}

func (w *writer) fixed(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *writer) vstr(b []byte) {
	w.uvarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// reader consumes a payload. The first failure sticks and later reads
// return zero values.
type reader struct {
	buf []byte
	pos int
	cmd Code
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = badDecode("%s: %s", r.cmd, fmt.Sprintf(format, args...))
	}
}

func (r *reader) u8(name string) uint8 {
	if r.err != nil {
		return 0
	}
	if r.pos >= len(r.buf) {
		r.fail("missing %s", name)
		return 0
	}
	b := r.buf[r.pos]
	r.pos++
	return b
}

func (r *reader) uvarint(name string) uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.FromUvarint(r.buf[r.pos:])
	if err != nil {
		r.fail("%s: %v", name, err)
		return 0
	}
	r.pos += n
	return v
}

func (r *reader) fixed(name string, dst []byte) {
	if r.err != nil {
		return
	}
	if len(r.buf)-r.pos < len(dst) {
		r.fail("short %s", name)
		return
	}
	copy(dst, r.buf[r.pos:])
	r.pos += len(dst)
}

func (r *reader) id(name string) types.ID {
	var id types.ID
	r.fixed(name, id[:])
	return id
}

func (r *reader) vstr(name string) []byte {
	size := r.uvarint(name + " length")
	if r.err != nil {
		return nil
	}
	if size > uint64(len(r.buf)-r.pos) {
		r.fail("%s of %d bytes overruns payload", name, size)
		return nil
	}
	out := append([]byte{}, r.buf[r.pos:r.pos+int(size)]...)
	r.pos += int(size)
	return out
}

func (r *reader) rest() []byte {
	if r.err != nil {
		return nil
	}
	return r.buf[r.pos:]
}

func (r *reader) skip(n int) {
	r.pos += n
}

func (r *reader) role() Role {
	role := Role(r.u8("role"))
	if r.err == nil && !role.Valid() {
		r.fail("unknown role %d", uint8(role))
	}
	return role
}

func (r *reader) itemType(refined bool) types.ItemType {
	t := types.ItemType(r.u8("item type"))
	switch {
	case r.err != nil:
	case !t.Valid():
		r.fail("unknown item type %d", uint8(t))
	case refined && !t.Refined():
		r.fail("%s items are not refined", t)
	}
	return t
}

func (r *reader) finish() error {
	if r.err == nil && r.pos != len(r.buf) {
		r.fail("%d trailing bytes", len(r.buf)-r.pos)
	}
	return r.err
}

// Error reports a failure to the peer before hanging up. On the wire the
// message is prefixed with its three digit code.
type Error struct {
	Code    ErrorCode
	Message string
}

func (*Error) CmdCode() Code { return CodeError }

func (e *Error) Error() string {
	return e.text()
}

func (e *Error) text() string {
	if e.Code == 0 {
		return e.Message
	}
	return fmt.Sprintf("%03d %s", int(e.Code), e.Message)
}

func (e *Error) encode(w *writer, _ uint8) error {
	w.vstr([]byte(e.text()))
	return nil
}

func (e *Error) decode(r *reader, _ uint8) {
	e.Code, e.Message = ParseErrorText(string(r.vstr("message")))
}

// ParseErrorText splits "NNN message" into its code and message. Text that
// doesn't start with a code of at least 100 is returned whole with code 0.
func ParseErrorText(s string) (ErrorCode, string) {
	if len(s) < 4 || s[3] != ' ' {
		return 0, s
	}
	code, err := strconv.Atoi(s[:3])
	if err != nil || code < 100 {
		return 0, s
	}
	return ErrorCode(code), s[4:]
}

// Bye is one step of the three phase shutdown.
type Bye struct {
	Phase uint8
}

func (*Bye) CmdCode() Code { return CodeBye }

func (b *Bye) encode(w *writer, _ uint8) error {
	w.u8(b.Phase)
	return nil
}

func (b *Bye) decode(r *reader, _ uint8) {
	b.Phase = r.u8("phase")
}

// Hello is the server's greeting after version negotiation.
type Hello struct {
	Key    types.PublicKey
	BoxKey [signing.BoxKeySize]byte
	Nonce  [NonceSize]byte
}

func (*Hello) CmdCode() Code { return CodeHello }

func (h *Hello) encode(w *writer, _ uint8) error {
	w.vstr([]byte(h.Key.Name))
	w.vstr(h.Key.Pub[:])
	w.vstr(h.BoxKey[:])
	w.fixed(h.Nonce[:])
	return nil
}

func (h *Hello) decode(r *reader, _ uint8) {
	h.Key.Name = string(r.vstr("key name"))
	if pub := r.vstr("public key"); r.err == nil {
		if len(pub) != types.PublicKeySize {
			r.fail("public key of %d bytes", len(pub))
		}
		copy(h.Key.Pub[:], pub)
	}
	if box := r.vstr("box key"); r.err == nil {
		if len(box) != signing.BoxKeySize {
			r.fail("box key of %d bytes", len(box))
		}
		copy(h.BoxKey[:], box)
	}
	r.fixed("nonce", h.Nonce[:])
}

// Anonymous requests a session without identifying the client.
type Anonymous struct {
	Role       Role
	Include    string
	Exclude    string
	SessionKey []byte
}

func (*Anonymous) CmdCode() Code { return CodeAnonymous }

func (a *Anonymous) encode(w *writer, _ uint8) error {
	if !a.Role.Valid() {
		return fmt.Errorf("invalid role %d", uint8(a.Role))
	}
	w.u8(uint8(a.Role))
	w.vstr([]byte(a.Include))
	w.vstr([]byte(a.Exclude))
	w.vstr(a.SessionKey)
	return nil
}

func (a *Anonymous) decode(r *reader, _ uint8) {
	a.Role = r.role()
	a.Include = string(r.vstr("include"))
	a.Exclude = string(r.vstr("exclude"))
	a.SessionKey = r.vstr("session key")
}

// Auth requests a session as the holder of the Client key. Nonce echoes the
// server's hello nonce and Signature covers it.
type Auth struct {
	Role       Role
	Include    string
	Exclude    string
	Client     types.ID
	Nonce      [NonceSize]byte
	SessionKey []byte
	Signature  []byte
}

func (*Auth) CmdCode() Code { return CodeAuth }

func (a *Auth) encode(w *writer, _ uint8) error {
	if !a.Role.Valid() {
		return fmt.Errorf("invalid role %d", uint8(a.Role))
	}
	w.u8(uint8(a.Role))
	w.vstr([]byte(a.Include))
	w.vstr([]byte(a.Exclude))
	w.fixed(a.Client[:])
	w.fixed(a.Nonce[:])
	w.vstr(a.SessionKey)
	w.vstr(a.Signature)
	return nil
}

func (a *Auth) decode(r *reader, _ uint8) {
	a.Role = r.role()
	a.Include = string(r.vstr("include"))
	a.Exclude = string(r.vstr("exclude"))
	a.Client = r.id("client key")
	r.fixed("nonce", a.Nonce[:])
	a.SessionKey = r.vstr("session key")
	a.Signature = r.vstr("signature")
}

// Confirm accepts the client's request.
type Confirm struct{}

func (*Confirm) CmdCode() Code { return CodeConfirm }

func (*Confirm) encode(*writer, uint8) error { return nil }

func (*Confirm) decode(*reader, uint8) {}

// Refine carries one merkle node of a refinement exchange.
type Refine struct {
	Type RefinementType
	Node *merkle.Node
}

func (*Refine) CmdCode() Code { return CodeRefine }

func (rf *Refine) encode(w *writer, _ uint8) error {
	if rf.Node == nil {
		return errors.New("missing node")
	}
	buf, err := rf.Node.MarshalBinary()
	if err != nil {
		return err
	}
	w.u8(uint8(rf.Type))
	w.fixed(buf)
	return nil
}

func (rf *Refine) decode(r *reader, _ uint8) {
	rf.Type = RefinementType(r.u8("refinement type"))
	if r.err == nil && rf.Type != Query && rf.Type != Response {
		r.fail("unknown refinement type %d", uint8(rf.Type))
	}
	rest := r.rest()
	if r.err != nil {
		return
	}
	node, used, err := merkle.Decode(rest)
	if err != nil {
		r.fail("%v", err)
		return
	}
	if !node.Type.Refined() {
		r.fail("%s items are not refined", node.Type)
		return
	}
	rf.Node = node
	r.skip(used)
}

// Done ends refinement of one item type and announces how many items the
// sender will transmit.
type Done struct {
	Type  types.ItemType
	Count uint64
}

func (*Done) CmdCode() Code { return CodeDone }

func (d *Done) encode(w *writer, _ uint8) error {
	w.u8(uint8(d.Type))
	w.uvarint(d.Count)
	return nil
}

func (d *Done) decode(r *reader, _ uint8) {
	d.Type = r.itemType(true)
	d.Count = r.uvarint("item count")
}

// Data carries one whole item.
type Data struct {
	Type types.ItemType
	ID   types.ID
	Data []byte
}

func (*Data) CmdCode() Code { return CodeData }

func (d *Data) encode(w *writer, version uint8) error {
	w.u8(uint8(d.Type))
	w.fixed(d.ID[:])
	return writeCompressed(w, version, d.Data)
}

func (d *Data) decode(r *reader, _ uint8) {
	d.Type = r.itemType(false)
	d.ID = r.id("id")
	d.Data = readCompressed(r, "data")
}

// Delta carries a file as a binary patch against a base file.
type Delta struct {
	Type  types.ItemType
	Base  types.ID
	ID    types.ID
	Delta []byte
}

func (*Delta) CmdCode() Code { return CodeDelta }

func (d *Delta) encode(w *writer, version uint8) error {
	w.u8(uint8(d.Type))
	w.fixed(d.Base[:])
	w.fixed(d.ID[:])
	return writeCompressed(w, version, d.Delta)
}

func (d *Delta) decode(r *reader, _ uint8) {
	d.Type = r.itemType(false)
	d.Base = r.id("base")
	d.ID = r.id("id")
	d.Delta = readCompressed(r, "delta")
}

func writeCompressed(w *writer, version uint8, data []byte) error {
	c := compressionFor(version, len(data))
	out, err := compress(c, data)
	if err != nil {
		return err
	}
	w.u8(uint8(c))
	w.vstr(out)
	return nil
}

func readCompressed(r *reader, name string) []byte {
	c := Compression(r.u8("compression"))
	raw := r.vstr(name)
	if r.err != nil {
		return nil
	}
	out, err := decompress(c, raw)
	if err != nil {
		r.fail("%s: %v", name, err)
		return nil
	}
	return out
}

// Usher is sent by the server before anything else. It is exempt from
// version checks and the HMAC chain.
type Usher struct {
	Greeting string
}

func (*Usher) CmdCode() Code { return CodeUsher }

func (u *Usher) encode(w *writer, _ uint8) error {
	w.vstr([]byte(u.Greeting))
	return nil
}

func (u *Usher) decode(r *reader, _ uint8) {
	u.Greeting = string(r.vstr("greeting"))
}

// UsherReply answers the usher. The command version is the newest version
// the client speaks.
type UsherReply struct {
	Server  string
	Include string
}

func (*UsherReply) CmdCode() Code { return CodeUsherReply }

func (u *UsherReply) encode(w *writer, _ uint8) error {
	w.vstr([]byte(u.Server))
	w.vstr([]byte(u.Include))
	return nil
}

func (u *UsherReply) decode(r *reader, _ uint8) {
	u.Server = string(r.vstr("server"))
	u.Include = string(r.vstr("include"))
}
