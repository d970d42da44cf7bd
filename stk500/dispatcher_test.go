package stk500

import (
	"bytes"
	"errors"
	"testing"

	"github.com/daedaluz/avrispbridge/avrerr"
)

type fakeISP struct {
	enterErr    error
	signature   [3]byte
	eraseErr    error
	eraseCalls  int
	pageBuffer  map[uint16]uint16
	committed   []uint16
	flash       map[uint16]uint16
	universalRx byte
}

func newFakeISP() *fakeISP {
	return &fakeISP{
		pageBuffer: map[uint16]uint16{},
		flash:      map[uint16]uint16{},
	}
}

func (f *fakeISP) EnterProgrammingMode() error   { return f.enterErr }
func (f *fakeISP) LeaveProgrammingMode() error   { return nil }
func (f *fakeISP) ReadSignature() ([3]byte, error) { return f.signature, nil }

func (f *fakeISP) ChipErase() error {
	f.eraseCalls++
	return f.eraseErr
}

func (f *fakeISP) LoadPageBufferWord(wordIndex, word uint16) error {
	f.pageBuffer[wordIndex] = word
	return nil
}

func (f *fakeISP) CommitPage(wordAddress uint16) error {
	for idx, word := range f.pageBuffer {
		f.flash[wordAddress+idx] = word
	}
	f.committed = append(f.committed, wordAddress)
	f.pageBuffer = map[uint16]uint16{}
	return nil
}

func (f *fakeISP) ReadProgramWord(wordAddress uint16) (uint16, error) {
	return f.flash[wordAddress], nil
}

func (f *fakeISP) Universal(cmd [4]byte) (byte, error) {
	return f.universalRx, nil
}

func parseResponse(t *testing.T, buf *bytes.Buffer, wantPayloadLen int) (payload []byte, ok bool) {
	t.Helper()
	b := buf.Bytes()
	if len(b) == 0 {
		t.Fatalf("empty response")
	}
	if b[0] == RespNoSync {
		return nil, false
	}
	if b[0] != RespInSync {
		t.Fatalf("first byte = 0x%02x, want INSYNC or NOSYNC", b[0])
	}
	last := b[len(b)-1]
	if last != RespOK && last != RespFailed {
		t.Fatalf("last byte = 0x%02x, want OK or FAILED", last)
	}
	return b[1 : len(b)-1], last == RespOK
}

func TestDispatchGetSync(t *testing.T) {
	out := &bytes.Buffer{}
	d := NewDispatcher(newFakeISP(), &outAdapter{out})
	if err := d.Dispatch(Frame{Cmd: CmdGetSync}); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	payload, ok := parseResponse(t, out, 0)
	if !ok {
		t.Fatalf("expected OK")
	}
	if len(payload) != 0 {
		t.Errorf("payload = %v, want empty", payload)
	}
}

func TestDispatchGetSignOn(t *testing.T) {
	out := &bytes.Buffer{}
	d := NewDispatcher(newFakeISP(), &outAdapter{out})
	if err := d.Dispatch(Frame{Cmd: CmdGetSignOn}); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	payload, ok := parseResponse(t, out, len(signOnPayload))
	if !ok {
		t.Fatalf("expected OK")
	}
	if !bytes.Equal(payload, signOnPayload) {
		t.Errorf("payload = %q, want %q", payload, signOnPayload)
	}
}

func TestDispatchEnterProgModeKnownProfile(t *testing.T) {
	out := &bytes.Buffer{}
	isp := newFakeISP()
	isp.signature = [3]byte{0x1E, 0x93, 0x0B} // ATtiny85
	d := NewDispatcher(isp, &outAdapter{out})

	if err := d.Dispatch(Frame{Cmd: CmdEnterProgMode}); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if _, ok := parseResponse(t, out, 0); !ok {
		t.Fatalf("expected OK")
	}
	if !d.State.InProgrammingMode {
		t.Errorf("InProgrammingMode = false, want true")
	}
	if d.State.PageBytes != 64 {
		t.Errorf("PageBytes = %d, want 64 (ATtiny85)", d.State.PageBytes)
	}
}

func TestDispatchEnterProgModeUnknownProfileUsesDefault(t *testing.T) {
	out := &bytes.Buffer{}
	isp := newFakeISP()
	isp.signature = [3]byte{0xFF, 0xFF, 0xFF}
	d := NewDispatcher(isp, &outAdapter{out})

	if err := d.Dispatch(Frame{Cmd: CmdEnterProgMode}); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if d.State.PageBytes != 128 {
		t.Errorf("PageBytes = %d, want default 128", d.State.PageBytes)
	}
}

func TestDispatchEnterProgModeFailureLeavesStateUntouched(t *testing.T) {
	out := &bytes.Buffer{}
	isp := newFakeISP()
	isp.enterErr = errors.New("no echo")
	d := NewDispatcher(isp, &outAdapter{out})

	if err := d.Dispatch(Frame{Cmd: CmdEnterProgMode}); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if _, ok := parseResponse(t, out, 0); ok {
		t.Fatalf("expected FAILED")
	}
	if d.State.InProgrammingMode {
		t.Errorf("InProgrammingMode = true, want false after a failed entry")
	}
}

func TestDispatchProgPageRequiresProgrammingMode(t *testing.T) {
	out := &bytes.Buffer{}
	d := NewDispatcher(newFakeISP(), &outAdapter{out})
	payload := []byte{0x00, 0x02, 'F', 0x01, 0x02}
	if err := d.Dispatch(Frame{Cmd: CmdProgPage, Payload: payload}); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if _, ok := parseResponse(t, out, 0); ok {
		t.Fatalf("expected FAILED outside programming mode")
	}
}

func TestDispatchProgPageAndReadPageRoundTrip(t *testing.T) {
	out := &bytes.Buffer{}
	isp := newFakeISP()
	d := NewDispatcher(isp, &outAdapter{out})
	d.State.InProgrammingMode = true
	d.State.PageBytes = 128
	d.State.CurrentWordAddress = 0

	data := []byte{0x01, 0x02, 0x03, 0x04}
	progPayload := append([]byte{0x00, byte(len(data)), 'F'}, data...)
	if err := d.Dispatch(Frame{Cmd: CmdProgPage, Payload: progPayload}); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if _, ok := parseResponse(t, out, 0); !ok {
		t.Fatalf("expected OK for PROG_PAGE")
	}
	if d.State.CurrentWordAddress != 2 {
		t.Errorf("CurrentWordAddress = %d, want 2", d.State.CurrentWordAddress)
	}

	out.Reset()
	d.State.CurrentWordAddress = 0
	readPayload := []byte{0x00, byte(len(data)), 'F'}
	if err := d.Dispatch(Frame{Cmd: CmdReadPage, Payload: readPayload}); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	payload, ok := parseResponse(t, out, len(data))
	if !ok {
		t.Fatalf("expected OK for READ_PAGE")
	}
	if !bytes.Equal(payload, data) {
		t.Errorf("read back %v, want %v", payload, data)
	}
}

func TestDispatchChipEraseHaltsAtCeiling(t *testing.T) {
	out := &bytes.Buffer{}
	isp := newFakeISP()
	isp.eraseErr = avrerr.ErrEraseCeiling
	d := NewDispatcher(isp, &outAdapter{out})
	d.State.InProgrammingMode = true

	err := d.Dispatch(Frame{Cmd: CmdChipErase})
	if err == nil {
		t.Fatalf("expected a HaltRequest, got nil")
	}
	var halt *HaltRequest
	if !errors.As(err, &halt) {
		t.Fatalf("error = %v, want *HaltRequest", err)
	}
	if _, ok := parseResponse(t, out, 0); ok {
		t.Fatalf("expected FAILED on the ceiling-hit frame")
	}
}

func TestDispatchChipEraseRequiresProgrammingMode(t *testing.T) {
	out := &bytes.Buffer{}
	isp := newFakeISP()
	d := NewDispatcher(isp, &outAdapter{out})

	if err := d.Dispatch(Frame{Cmd: CmdChipErase}); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if _, ok := parseResponse(t, out, 0); ok {
		t.Fatalf("expected FAILED outside programming mode")
	}
	if isp.eraseCalls != 0 {
		t.Errorf("eraseCalls = %d, want 0: chip_erase must not reach the target outside programming mode", isp.eraseCalls)
	}
}

func TestDispatchChipEraseGenericFailureRepliesFailed(t *testing.T) {
	out := &bytes.Buffer{}
	isp := newFakeISP()
	isp.eraseErr = errors.New("spi link down")
	d := NewDispatcher(isp, &outAdapter{out})
	d.State.InProgrammingMode = true

	err := d.Dispatch(Frame{Cmd: CmdChipErase})
	if err != nil {
		t.Fatalf("Dispatch returned error: %v, want nil (recovered failure)", err)
	}
	if _, ok := parseResponse(t, out, 0); ok {
		t.Fatalf("expected FAILED for a non-ceiling erase error")
	}
}

func TestDispatchUnknownCommandRepliesFailed(t *testing.T) {
	out := &bytes.Buffer{}
	d := NewDispatcher(newFakeISP(), &outAdapter{out})
	if err := d.Dispatch(Frame{Cmd: 0xFE}); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if _, ok := parseResponse(t, out, 0); ok {
		t.Fatalf("expected FAILED for an unrecognized command")
	}
}

// outAdapter adapts a bytes.Buffer to the Writer interface dispatcher.go
// needs (WriteByte + Flush), for tests that don't need a real hostio.Adapter.
type outAdapter struct {
	buf *bytes.Buffer
}

func (o *outAdapter) WriteByte(b byte) error { return o.buf.WriteByte(b) }
func (o *outAdapter) Flush() error           { return nil }
