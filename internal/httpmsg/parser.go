package httpmsg

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// State is the parser's position in the START -> HEADER -> BODY -> ACCEPT
// state machine. States only ever advance.
type State int

const (
	StateStart State = iota
	StateHeader
	StateBody
	StateAccept
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateHeader:
		return "HEADER"
	case StateBody:
		return "BODY"
	case StateAccept:
		return "ACCEPT"
	default:
		return "UNKNOWN"
	}
}

// Format is the body framing the parser decided on while reading headers.
type Format int

const (
	FormatPlain Format = iota
	FormatLength
	FormatChunked
)

// Parser drives one Message through the incremental state machine. It is
// bound to exactly one Message for its lifetime; Reset rebinds it to a
// fresh request/response on the same connection.
type Parser struct {
	Message       *Message
	State         State
	Format        Format
	ContentLength uint64

	// AmbiguousFraming is set when a message carries both Content-Length
	// and a chunked Transfer-Encoding. Chunked wins regardless of which
	// header appeared first; callers should log this, not reject it.
	AmbiguousFraming bool
}

// NewParser binds a parser to msg.
func NewParser(msg *Message) *Parser {
	return &Parser{Message: msg}
}

// Reset empties the bound message and returns the parser to START with
// the default PLAIN format and zero content length.
func (p *Parser) Reset() {
	p.Message.Reset()
	p.State = StateStart
	p.Format = FormatPlain
	p.ContentLength = 0
	p.AmbiguousFraming = false
}

// ParseStep consumes one logical unit (one line, or some body bytes)
// from r and advances State accordingly. Callers drive the state machine
// to ACCEPT by calling ParseStep repeatedly.
func (p *Parser) ParseStep(r *bufio.Reader) error {
	switch p.State {
	case StateStart:
		return p.putStartLine(r)
	case StateHeader:
		return p.putHeader(r)
	case StateBody:
		return p.putContent(r)
	case StateAccept:
		return &ParseError{Reason: "parser already in ACCEPT state"}
	default:
		return &ParseError{Reason: "unknown parser state"}
	}
}

func (p *Parser) putStartLine(r *bufio.Reader) error {
	line, err := r.ReadString('\n')
	if err != nil {
		return err
	}
	line = strings.TrimRight(line, "\r\n")

	first := strings.IndexByte(line, ' ')
	if first < 0 {
		return &ParseError{Reason: "invalid start line (need 3 fields)"}
	}
	second := strings.IndexByte(line[first+1:], ' ')
	if second < 0 {
		return &ParseError{Reason: "invalid start line (need 3 fields)"}
	}
	second += first + 1

	p.Message.StartLine[0] = line[:first]
	p.Message.StartLine[1] = line[first+1 : second]
	p.Message.StartLine[2] = line[second+1:]

	p.State = StateHeader
	return nil
}

func (p *Parser) putHeader(r *bufio.Reader) error {
	line, err := r.ReadString('\n')
	if err != nil {
		return err
	}
	trimmed := strings.TrimRight(line, "\r\n")
	if trimmed == "" {
		if p.hasBody() {
			p.State = StateBody
		} else {
			p.State = StateAccept
		}
		return nil
	}

	colon := strings.IndexByte(trimmed, ':')
	if colon < 0 {
		return &ParseError{Reason: fmt.Sprintf("invalid header line (no colon): %q", trimmed)}
	}
	if strings.IndexByte(trimmed[:colon], ' ') >= 0 {
		// RFC 7230 §3.2.4: no whitespace allowed before the colon.
		return &ParseError{Reason: fmt.Sprintf("invalid header line (space before colon): %q", trimmed)}
	}

	key := trimmed[:colon]
	value := strings.TrimSpace(trimmed[colon+1:])
	key = CanonicalizeKey(key)

	p.Message.Headers = append(p.Message.Headers, HeaderLine{Key: key, Value: value})

	switch key {
	case "Content-Length":
		if n, err := strconv.ParseUint(value, 10, 64); err == nil {
			if p.Format == FormatChunked {
				p.AmbiguousFraming = true
			} else {
				p.Format = FormatLength
				p.ContentLength = n
			}
		}
	case "Transfer-Encoding":
		if strings.Contains(strings.ToLower(value), "chunked") {
			if p.Format == FormatLength {
				p.AmbiguousFraming = true
			}
			p.Format = FormatChunked
			p.ContentLength = 0
		}
	}
	return nil
}

func (p *Parser) putContent(r *bufio.Reader) error {
	switch p.Format {
	case FormatPlain:
		return p.putPlainContent(r)
	case FormatLength:
		return p.putLengthContent(r)
	case FormatChunked:
		return p.putChunkedContent(r)
	default:
		return &ParseError{Reason: "unknown body format"}
	}
}

func (p *Parser) putPlainContent(r *bufio.Reader) error {
	buf := make([]byte, 4096)
	n, err := r.Read(buf)
	if n > 0 {
		p.Message.Body = append(p.Message.Body, buf[:n]...)
	}
	if err == io.EOF {
		p.State = StateAccept
		return nil
	}
	return err
}

func (p *Parser) putLengthContent(r *bufio.Reader) error {
	buf := make([]byte, p.ContentLength)
	n, err := io.ReadFull(r, buf)
	p.Message.Body = append(p.Message.Body, buf[:n]...)
	if err != nil {
		return err
	}
	p.State = StateAccept
	return nil
}

// putChunkedContent implements §4.2's chunked sub-state machine,
// including the deliberate quirk (documented in DESIGN.md) of appending
// the raw chunk-size line itself into the body buffer, not just the
// chunk's data.
func (p *Parser) putChunkedContent(r *bufio.Reader) error {
	if p.ContentLength == 0 {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		p.Message.Body = append(p.Message.Body, line...)
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			p.State = StateAccept
			return nil
		}
		sizeField := trimmed
		if semi := strings.IndexByte(trimmed, ';'); semi >= 0 {
			sizeField = trimmed[:semi]
		}
		size, err := strconv.ParseUint(sizeField, 16, 64)
		if err != nil {
			return &ParseError{Reason: fmt.Sprintf("invalid chunk size: %q", sizeField)}
		}
		if size == 0 {
			p.State = StateAccept
			return nil
		}
		p.ContentLength = size + 2 // include trailing CRLF
		return nil
	}

	buf := make([]byte, p.ContentLength)
	n, err := io.ReadFull(r, buf)
	p.Message.Body = append(p.Message.Body, buf[:n]...)
	if err != nil {
		return err
	}
	p.ContentLength = 0
	return nil
}

// hasBody implements §4.2's hasBody() decision.
func (p *Parser) hasBody() bool {
	proto := p.Message.StartLine[0]
	if proto == "HTTP/1.0" || proto == "HTTP/1.1" {
		status := p.Message.StartLine[1]
		if len(status) == 3 && (status[0] == '1' || status == "204" || status == "304") {
			return false
		}
		return true
	}
	return (p.Format == FormatLength && p.ContentLength > 0) || p.Format == FormatChunked
}
