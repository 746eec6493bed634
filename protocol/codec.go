package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/encodeous/dvrouter/state"
)

const (
	// MaxLineLength bounds a single protocol line, including the terminator.
	MaxLineLength = 1024
	// MaxEntries bounds the Len: header of a DV message.
	MaxEntries = 4096
)

var (
	ErrMalformed = errors.New("malformed message")
	ErrTruncated = errors.New("truncated message")
)

const (
	fromHeader = "From:"
	typeHeader = "Type:"
	lenHeader  = "Len:"
)

func checkId(id state.NodeId) error {
	s := string(id)
	if s == "" {
		return fmt.Errorf("%w: empty identity", ErrMalformed)
	}
	if strings.ContainsAny(s, "\r\n") || strings.TrimSpace(s) != s {
		return fmt.Errorf("%w: identity %q cannot be framed", ErrMalformed, s)
	}
	return nil
}

// Encode renders m in the line oriented wire format. DV entries are written in
// sorted order so that equal messages produce equal bytes.
func Encode(m Message) ([]byte, error) {
	name, ok := kindNames[m.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformed, m.Kind)
	}
	if err := checkId(m.From); err != nil {
		return nil, err
	}
	if m.Kind != Dv && len(m.Costs) != 0 {
		return nil, fmt.Errorf("%w: %s cannot carry costs", ErrMalformed, m.Kind)
	}

	var b bytes.Buffer
	b.WriteString(fromHeader)
	b.WriteString(string(m.From))
	b.WriteByte('\n')
	b.WriteString(typeHeader)
	b.WriteString(name)
	b.WriteByte('\n')
	if m.Kind != Dv {
		return b.Bytes(), nil
	}

	b.WriteString(lenHeader)
	b.WriteString(strconv.Itoa(len(m.Costs)))
	b.WriteByte('\n')
	for _, dest := range slices.Sorted(maps.Keys(m.Costs)) {
		if err := checkId(dest); err != nil {
			return nil, err
		}
		b.WriteString(string(dest))
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(m.Costs[dest], 'f', -1, 64))
		b.WriteByte('\n')
	}
	return b.Bytes(), nil
}

// Decoder reads consecutive messages from a byte stream.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	br, ok := r.(*bufio.Reader)
	if !ok || br.Size() < MaxLineLength {
		br = bufio.NewReaderSize(r, MaxLineLength)
	}
	return &Decoder{r: br}
}

// readLine returns one trimmed line. A stream that ends before the first byte of a
// message yields io.EOF, anywhere else it yields ErrTruncated.
func (d *Decoder) readLine(first bool) (string, error) {
	line, err := d.r.ReadSlice('\n')
	switch {
	case err == nil:
	case errors.Is(err, bufio.ErrBufferFull):
		return "", fmt.Errorf("%w: line exceeds %d bytes", ErrMalformed, MaxLineLength)
	case errors.Is(err, io.EOF):
		if first && len(line) == 0 {
			return "", io.EOF
		}
		return "", fmt.Errorf("%w: %w", ErrTruncated, io.ErrUnexpectedEOF)
	default:
		return "", err
	}
	return strings.TrimSpace(string(line)), nil
}

func (d *Decoder) header(name string) (string, error) {
	line, err := d.readLine(false)
	if err != nil {
		return "", err
	}
	v, ok := strings.CutPrefix(line, name)
	if !ok {
		return "", fmt.Errorf("%w: expected %s header, got %q", ErrMalformed, name, line)
	}
	return strings.TrimSpace(v), nil
}

// Decode reads exactly the lines the Type header calls for.
func (d *Decoder) Decode() (Message, error) {
	line, err := d.readLine(true)
	if err != nil {
		return Message{}, err
	}
	from, ok := strings.CutPrefix(line, fromHeader)
	from = strings.TrimSpace(from)
	if !ok || from == "" {
		return Message{}, fmt.Errorf("%w: expected %s header, got %q", ErrMalformed, fromHeader, line)
	}

	typ, err := d.header(typeHeader)
	if err != nil {
		return Message{}, err
	}
	kind, ok := ParseKind(typ)
	if !ok {
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, typ)
	}
	m := Message{Kind: kind, From: state.NodeId(from)}
	if kind != Dv {
		return m, nil
	}

	lenStr, err := d.header(lenHeader)
	if err != nil {
		return Message{}, err
	}
	n, err := strconv.Atoi(lenStr)
	if err != nil || n < 0 || n > MaxEntries {
		return Message{}, fmt.Errorf("%w: invalid length %q", ErrMalformed, lenStr)
	}
	m.Costs = make(map[state.NodeId]float64, n)
	for range n {
		line, err = d.readLine(false)
		if err != nil {
			return Message{}, err
		}
		idx := strings.LastIndexByte(line, ':')
		if idx <= 0 {
			return Message{}, fmt.Errorf("%w: invalid cost entry %q", ErrMalformed, line)
		}
		dest := state.NodeId(strings.TrimSpace(line[:idx]))
		cost, err := strconv.ParseFloat(strings.TrimSpace(line[idx+1:]), 64)
		if err != nil || dest == "" {
			return Message{}, fmt.Errorf("%w: invalid cost entry %q", ErrMalformed, line)
		}
		if _, dup := m.Costs[dest]; dup {
			return Message{}, fmt.Errorf("%w: duplicate destination %s", ErrMalformed, dest)
		}
		m.Costs[dest] = cost
	}
	return m, nil
}

// Unmarshal decodes a buffer holding exactly one message.
func Unmarshal(b []byte) (Message, error) {
	d := NewDecoder(bytes.NewReader(b))
	m, err := d.Decode()
	if errors.Is(err, io.EOF) {
		return Message{}, fmt.Errorf("%w: %w", ErrTruncated, io.ErrUnexpectedEOF)
	}
	if err != nil {
		return Message{}, err
	}
	if _, err := d.r.Peek(1); err == nil {
		return Message{}, fmt.Errorf("%w: trailing data after message", ErrMalformed)
	}
	return m, nil
}
