package cftp

import (
	"fmt"
	"strings"
)

// Port is a 16-bit TCP port, encoded into the two bytes PASV advertises.
type Port uint16

func (p Port) bytes() (hi, lo byte) {
	return byte(p >> 8), byte(p & 0xFF)
}

// Response is a control-channel reply. Implementations are produced by the
// session driver and consumed only by Encode.
type Response interface {
	// encode appends the text that follows "<code> " on the wire to buf
	// (Encode adds the code prefix and the final CRLF uniformly), and
	// returns the numeric code the response maps to.
	encode(buf *strings.Builder) int
}

// RespSimple is a bare "<code> <message>" reply. A nil Message produces the
// bug-compatible trailing space before CRLF that some clients dislike but
// that this wire format preserves on purpose.
type RespSimple struct {
	Code    int
	Message *string
}

// Simple builds a RespSimple with no message.
func Simple(code int) RespSimple { return RespSimple{Code: code} }

// SimpleMsg builds a RespSimple carrying a message.
func SimpleMsg(code int, msg string) RespSimple {
	return RespSimple{Code: code, Message: &msg}
}

func (r RespSimple) encode(buf *strings.Builder) int {
	if r.Message != nil {
		buf.WriteString(escapeQuotes(*r.Message))
	}

	return r.Code
}

// RespFeatures is the multi-line FEAT reply body (code 211). Iteration
// order over Features is unspecified; callers must not depend on it.
type RespFeatures struct {
	Features map[string]struct{}
}

func (r RespFeatures) encode(buf *strings.Builder) int {
	// Handled specially by Encode, since FEAT doesn't follow the uniform
	// "<code> <text>\r\n" shape; encode is only invoked here for the code.
	return StatusSystemStatus
}

// NameSystemType is the SYST reply (code 215).
type NameSystemType struct{ Message string }

func (r NameSystemType) encode(buf *strings.Builder) int {
	buf.WriteString(escapeQuotes(r.Message))
	return StatusNameSystemType
}

// ReadyForNewUser is the initial welcome banner (code 220).
type ReadyForNewUser struct{ Message string }

func (r ReadyForNewUser) encode(buf *strings.Builder) int {
	buf.WriteString(escapeQuotes(r.Message))
	return StatusReadyForNewUser
}

// EnteringPassiveMode is the PASV reply (code 227).
type EnteringPassiveMode struct {
	IP   [4]byte
	Port Port
}

func (r EnteringPassiveMode) encode(buf *strings.Builder) int {
	p1, p2 := r.Port.bytes()
	fmt.Fprintf(buf, "(%d,%d,%d,%d,%d,%d)", r.IP[0], r.IP[1], r.IP[2], r.IP[3], p1, p2)

	return StatusEnteringPassiveMode
}

// FileActionOk is a generic "done" reply (code 250), optionally naming the
// path that was acted on.
type FileActionOk struct{ Path *string }

func (r FileActionOk) encode(buf *strings.Builder) int {
	if r.Path != nil {
		buf.WriteString(`"` + escapeQuotes(*r.Path) + `"`)
	}

	return StatusFileActionOK
}

// DirectoryCreated is the PWD / MKD-style reply (code 257).
type DirectoryCreated struct{ Path string }

func (r DirectoryCreated) encode(buf *strings.Builder) int {
	buf.WriteString(`"` + escapeQuotes(r.Path) + `"`)
	return StatusDirectoryCreated
}

// escapeQuotes escapes each embedded quote character with a backslash
// (`"` becomes `\"`).
func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// Encode renders a Response to its wire bytes, always CRLF-terminated.
func Encode(r Response) []byte {
	if feat, ok := r.(RespFeatures); ok {
		return encodeFeatures(feat)
	}

	var buf strings.Builder

	code := r.encode(&buf)

	out := strings.Builder{}
	fmt.Fprintf(&out, "%d ", code)
	out.WriteString(buf.String())
	out.WriteString("\r\n")

	return []byte(out.String())
}

func encodeFeatures(r RespFeatures) []byte {
	var out strings.Builder

	fmt.Fprintf(&out, "%d Features:\r\n", StatusSystemStatus)

	for feature := range r.Features {
		fmt.Fprintf(&out, " %s\r\n", feature)
	}

	fmt.Fprintf(&out, "%d End\r\n", StatusSystemStatus)

	return []byte(out.String())
}
