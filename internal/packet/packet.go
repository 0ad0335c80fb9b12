// Package packet builds the canonical evidence record for one operation.
// A packet captures the operation's inputs and outputs, hashes the canonical
// encoding of each, and is itself hashed for the on-disk evidence file.
// Packets are write-once: corrections mean a new packet with a new id.
package packet

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/beylesys/Kacheri-sub002/internal/util"
)

// HashPrefix is prepended to every hex digest persisted by the subsystem.
const HashPrefix = "sha256:"

// Hashes holds the content hashes of a packet's input and output.
type Hashes struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Packet is the evidentiary unit: a canonical JSON record of one operation,
// independent of any generated file's own bytes.
type Packet struct {
	ID        string         `json:"id"`
	SubjectID string         `json:"subjectId,omitempty"`
	Kind      string         `json:"kind"`
	Timestamp int64          `json:"timestamp"`
	Input     any            `json:"input"`
	Output    any            `json:"output"`
	Hashes    Hashes         `json:"hashes"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Build constructs a packet for one operation. Input and output are
// canonicalized before hashing so identical logical content always yields
// the same hash regardless of serialization order.
func Build(kind string, input, output any, subjectID string, meta map[string]any) (Packet, error) {
	inputHash, err := HashContent(input)
	if err != nil {
		return Packet{}, fmt.Errorf("hash packet input: %w", err)
	}
	outputHash, err := HashContent(output)
	if err != nil {
		return Packet{}, fmt.Errorf("hash packet output: %w", err)
	}
	return Packet{
		ID:        util.NewID("pkt"),
		SubjectID: subjectID,
		Kind:      kind,
		Timestamp: time.Now().UnixMilli(),
		Input:     input,
		Output:    output,
		Hashes:    Hashes{Input: inputHash, Output: outputHash},
		Meta:      meta,
	}, nil
}

// ContentHash returns the hash of the packet's output, the value persisted
// on the proof record.
func (p Packet) ContentHash() string {
	return p.Hashes.Output
}

// Encode returns the canonical byte encoding of the whole packet. These are
// the bytes written to the evidence file, and PacketHash(p) hashes them.
func (p Packet) Encode() ([]byte, error) {
	return Canonicalize(p)
}

// PacketHash hashes the full canonical packet for the evidence file.
func PacketHash(p Packet) (string, error) {
	encoded, err := p.Encode()
	if err != nil {
		return "", err
	}
	return hashBytes(encoded), nil
}

// HashContent canonicalizes v and returns "sha256:" + hex of the digest.
func HashContent(v any) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return hashBytes(canonical), nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return HashPrefix + hex.EncodeToString(sum[:])
}

// Canonicalize encodes v as JSON with object keys sorted lexicographically
// and no insignificant whitespace. It round-trips v through encoding/json
// first so struct field order, map iteration order and json.RawMessage
// formatting can never leak into the hash.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for canonicalization: %w", err)
	}
	var decoded any
	decoder := json.NewDecoder(strings.NewReader(string(raw)))
	decoder.UseNumber()
	if err := decoder.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode for canonicalization: %w", err)
	}
	var sb strings.Builder
	if err := writeCanonical(&sb, decoded); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func writeCanonical(sb *strings.Builder, v any) error {
	switch value := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			encodedKey, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("marshal key %q: %w", k, err)
			}
			sb.Write(encodedKey)
			sb.WriteByte(':')
			if err := writeCanonical(sb, value[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
		return nil
	case []any:
		sb.WriteByte('[')
		for i, item := range value {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
		return nil
	case json.Number:
		sb.WriteString(value.String())
		return nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal scalar: %w", err)
		}
		sb.Write(encoded)
		return nil
	}
}

// Decode parses evidence-file bytes back into a packet.
func Decode(data []byte) (Packet, error) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return Packet{}, fmt.Errorf("decode packet: %w", err)
	}
	return p, nil
}
