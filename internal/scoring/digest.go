package scoring

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/MrWong99/vigil/pkg/record"
)

// digestKey is the BLAKE3 domain key for event log digests: the ASCII name
// zero-padded to 32 bytes. Changing it invalidates every stored digest.
var digestKey = [32]byte{
	'v', 'i', 'g', 'i', 'l', '.', 'r', 'e', 'p', 'o', 'r', 't', '.',
	'e', 'v', 'e', 'n', 't', 's',
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("scoring: CBOR encoder initialization failed: " + err.Error())
	}
}

// canonicalEvent is the digest form of an event. Field order is fixed by the
// toarray encoding and timestamps are reduced to microseconds so that a log
// read back from PostgreSQL digests the same as the one written.
type canonicalEvent struct {
	_         struct{} `cbor:",toarray"`
	ID        string
	SessionID string
	Type      string
	Timestamp int64
	Duration  *float64
	Details   map[string]any
}

// Digest returns the hex keyed BLAKE3 digest of events. Each event is
// encoded with deterministic CBOR, the encodings are sorted bytewise and
// hashed length-prefixed, so the result does not depend on event order.
func Digest(events []record.Event) (string, error) {
	encoded := make([][]byte, 0, len(events))
	for _, e := range events {
		b, err := encMode.Marshal(canonicalEvent{
			ID:        e.ID,
			SessionID: e.SessionID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.UnixMicro(),
			Duration:  e.Duration,
			Details:   canonicalDetails(e.Details),
		})
		if err != nil {
			return "", fmt.Errorf("scoring: digest: encode event %q: %w", e.ID, err)
		}
		encoded = append(encoded, b)
	}
	slices.SortFunc(encoded, bytes.Compare)

	h, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		return "", fmt.Errorf("scoring: digest: %w", err)
	}
	var n [8]byte
	for _, b := range encoded {
		binary.BigEndian.PutUint64(n[:], uint64(len(b)))
		h.Write(n[:])
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalDetails widens numbers to float64, matching what a JSON round
// trip through storage yields.
func canonicalDetails(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch n := v.(type) {
		case int:
			out[k] = float64(n)
		case int32:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		case float32:
			out[k] = float64(n)
		default:
			out[k] = v
		}
	}
	return out
}
