package core

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"lukechampine.com/blake3"

	"lendpool/native/bank"
	"lendpool/native/lending"
	"lendpool/storage"
)

var stateKey = []byte("lendpool/state/v1")

// ErrStateCorrupted is returned when the persisted checksum does not match.
var ErrStateCorrupted = errors.New("core: persisted state checksum mismatch")

// State is everything the host persists: the pool aggregate and the custody
// balances it moves assets between.
type State struct {
	Pool    *lending.Pool `json:"pool"`
	Custody *bank.Ledger  `json:"custody"`
}

type stateRecord struct {
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	State    json.RawMessage `json:"state"`
}

// StateStore writes the State as a single record so a pool and its custody
// can never be persisted out of step.
type StateStore struct {
	db storage.Database
}

func NewStateStore(db storage.Database) *StateStore {
	return &StateStore{db: db}
}

// Save encodes state and stores it with a BLAKE3 checksum. The returned
// checksum is the one written alongside the record.
func (s *StateStore) Save(state State) (string, error) {
	payload, checksum, err := encodeState(state)
	if err != nil {
		return "", fmt.Errorf("core: encode state: %w", err)
	}
	if s == nil || s.db == nil {
		return checksum, nil
	}
	record, err := json.Marshal(stateRecord{
		Version:  1,
		Checksum: checksum,
		State:    payload,
	})
	if err != nil {
		return "", fmt.Errorf("core: encode state record: %w", err)
	}
	if err := s.db.Put(stateKey, record); err != nil {
		return "", err
	}
	return checksum, nil
}

// Load returns the persisted state. ok is false when nothing was saved yet.
func (s *StateStore) Load() (state State, ok bool, err error) {
	if s == nil || s.db == nil {
		return State{}, false, nil
	}
	raw, err := s.db.Get(stateKey)
	if errors.Is(err, storage.ErrNotFound) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	var record stateRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return State{}, false, fmt.Errorf("core: decode state record: %w", err)
	}
	if record.Version != 1 {
		return State{}, false, fmt.Errorf("core: unsupported state version %d", record.Version)
	}
	want, err := hex.DecodeString(record.Checksum)
	if err != nil {
		return State{}, false, fmt.Errorf("core: decode checksum: %w", err)
	}
	sum := blake3.Sum256(record.State)
	if !bytes.Equal(sum[:], want) {
		return State{}, false, ErrStateCorrupted
	}
	state = State{Pool: lending.NewPool(), Custody: bank.NewLedger()}
	if err := json.Unmarshal(record.State, &state); err != nil {
		return State{}, false, fmt.Errorf("core: decode state: %w", err)
	}
	return state, true, nil
}

// encodeState returns the JSON payload and its BLAKE3 digest. Receipts carry
// the digest so clients can tell which state a call committed.
func encodeState(state State) ([]byte, string, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, "", err
	}
	sum := blake3.Sum256(payload)
	return payload, hex.EncodeToString(sum[:]), nil
}
