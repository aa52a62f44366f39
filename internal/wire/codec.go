// Package wire implements the line-oriented record codec used on the
// chat server's TCP wire protocol: newline-delimited UTF-8 records,
// each decomposing into a tag and payload split on the first '|'.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// MaxRecordSize is the largest record (excluding the trailing newline) the
// codec will accept before treating the connection as errored.
const MaxRecordSize = 64 * 1024

// Known inbound/outbound tags.
const (
	TagMsg    = "MSG"
	TagCmdUser = "CMD_USER"
	TagSrv    = "SRV"
	TagUList  = "ULIST"
)

// ErrRecordTooLarge is returned when a record exceeds MaxRecordSize without
// a terminating newline.
var ErrRecordTooLarge = errors.New("wire: record exceeds maximum size")

// Record is a single decoded frame: a tag and its payload.
type Record struct {
	Tag     string
	Payload string
}

// Encode serializes a record as "<tag>|<payload>\n".
func Encode(tag, payload string) []byte {
	return []byte(tag + "|" + payload + "\n")
}

// EncodeRecords serializes a list of records back-to-back, for round-trip
// testing against Decoder.ReadRecord.
func EncodeRecords(records []Record) []byte {
	var b strings.Builder
	for _, r := range records {
		b.Write(Encode(r.Tag, r.Payload))
	}
	return []byte(b.String())
}

// Decoder reads newline-delimited records off a stream, buffering partial
// trailing bytes until more data arrives.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r with a buffered line reader.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, MaxRecordSize+1)}
}

// ReadRecord reads and decodes the next newline-terminated record.
//
// Malformed UTF-8 inside an otherwise complete record is reported via the
// malformed bool so the caller can increment a counter and continue; it is
// not a fatal error. io.EOF is returned verbatim when the peer closes
// cleanly at a record boundary.
func (d *Decoder) ReadRecord() (rec Record, malformed bool, err error) {
	// ReadSlice stops with bufio.ErrBufferFull once MaxRecordSize+1 bytes
	// arrive without a newline, so an unterminated record is never
	// buffered past the limit.
	slice, err := d.r.ReadSlice('\n')
	line := string(slice)
	if err != nil {
		if errors.Is(err, io.EOF) && line == "" {
			return Record{}, false, io.EOF
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			return Record{}, false, ErrRecordTooLarge
		}
		if errors.Is(err, io.EOF) {
			// Partial trailing bytes with no newline and no more data: treat
			// as an unterminated record, an error per spec.
			return Record{}, false, fmt.Errorf("wire: unterminated record: %w", io.ErrUnexpectedEOF)
		}
		return Record{}, false, err
	}

	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	if len(line) > MaxRecordSize {
		return Record{}, false, ErrRecordTooLarge
	}

	if !utf8.ValidString(line) {
		return Record{}, true, nil
	}

	return Decode(line), false, nil
}

// Decode splits a single already-framed line into tag and payload on the
// first '|'. A line with no '|' is treated as a CHAT-defaulted MSG payload.
func Decode(line string) Record {
	idx := strings.IndexByte(line, '|')
	if idx < 0 {
		return Record{Tag: TagMsg, Payload: line}
	}

	return Record{Tag: line[:idx], Payload: line[idx+1:]}
}
