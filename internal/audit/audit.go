// Package audit implements the tamper-evident event log: one HMAC-chained
// JSON object per line, rotated at a size threshold, with the chain
// preserved across rotations. Any edit or removal of an earlier event
// invalidates every subsequent event's HMAC.
package audit

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/larkspurhq/strongbox/internal/errs"
)

// Kind enumerates the documented audit event kinds.
type Kind string

const (
	KindBackupStart       Kind = "backup_start"
	KindBackupEnd         Kind = "backup_end"
	KindRestore           Kind = "restore"
	KindConfigChange      Kind = "config_change"
	KindSecurityViolation Kind = "security_violation"
	KindPermissionDenied  Kind = "permission_denied"
	KindIntegrityFailure  Kind = "integrity_failure"
)

// RotateThreshold is the active log size at which a rotation occurs.
const RotateThreshold = 10 * 1024 * 1024 // 10 MiB

// SecretSize is the length of the HMAC key persisted in the .secret file.
const SecretSize = 32

// body is the part of an event that is hashed; ts/kind/subject/ok/detail.
type body struct {
	TS      time.Time `json:"ts"`
	Kind    Kind      `json:"kind"`
	Subject string    `json:"subject,omitempty"`
	OK      bool      `json:"ok"`
	Detail  string    `json:"detail,omitempty"`
}

// Event is one fully-formed, chained audit record.
type Event struct {
	body
	PrevHMACHex string `json:"prev_hmac_sha256_hex"`
	HMACHex     string `json:"hmac_sha256_hex"`
}

// Log is a single-writer, mutexed append-only audit log bound to a pair
// of files: logPath and logPath+".secret".
type Log struct {
	mu        sync.Mutex
	logPath   string
	secretKey []byte
	prevHMAC  []byte // raw 32 bytes
}

// Open loads or creates the secret key at logPath+".secret" and computes
// the chain's current tip by reading the last line of logPath, if any.
func Open(logPath string) (*Log, error) {
	secretPath := logPath + ".secret"
	key, err := loadOrCreateSecret(secretPath)
	if err != nil {
		return nil, err
	}

	l := &Log{logPath: logPath, secretKey: key, prevHMAC: make([]byte, sha256.Size)}

	last, err := readLastEvent(logPath)
	if err != nil {
		return nil, err
	}
	if last != nil {
		tip, err := hex.DecodeString(last.HMACHex)
		if err != nil {
			return nil, errs.Wrap(err, "decoding tip hmac")
		}
		l.prevHMAC = tip
	}
	return l, nil
}

func loadOrCreateSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != SecretSize {
			return nil, errs.Wrapf(errs.ErrConfigInvalid, "audit secret at %s has wrong length", path)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, errs.Wrap(err, "reading audit secret")
	}

	key := make([]byte, SecretSize)
	if _, err := rand.Read(key); err != nil {
		return nil, errs.Wrap(err, "generating audit secret")
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, errs.Wrap(err, "writing audit secret")
	}
	return key, nil
}

func readLastEvent(path string) (*Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(err, "reading audit log")
	}
	lines := bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
	if len(lines) == 0 || len(lines[len(lines)-1]) == 0 {
		return nil, nil
	}
	var ev Event
	if err := json.Unmarshal(lines[len(lines)-1], &ev); err != nil {
		return nil, errs.Wrap(err, "parsing last audit event")
	}
	return &ev, nil
}

// Append records a new event, computing its HMAC over
// (prev_hmac || serialized body) and chaining from the current tip.
func (l *Log) Append(kind Kind, subject string, ok bool, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := body{TS: time.Now().UTC(), Kind: kind, Subject: subject, OK: ok, Detail: detail}
	bodyBytes, err := json.Marshal(b)
	if err != nil {
		return errs.Wrap(err, "marshaling audit body")
	}

	mac := hmac.New(sha256.New, l.secretKey)
	mac.Write(l.prevHMAC)
	mac.Write(bodyBytes)
	sum := mac.Sum(nil)

	ev := Event{body: b, PrevHMACHex: hex.EncodeToString(l.prevHMAC), HMACHex: hex.EncodeToString(sum)}
	line, err := json.Marshal(ev)
	if err != nil {
		return errs.Wrap(err, "marshaling audit event")
	}
	line = append(line, '\n')

	if err := l.rotateIfNeeded(len(line)); err != nil {
		return err
	}

	f, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return errs.Wrap(err, "opening audit log for append")
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return errs.Wrap(err, "appending audit event")
	}

	l.prevHMAC = sum
	return nil
}

// rotateIfNeeded renames the active log to a timestamp-suffixed file once
// appending incoming would push it past RotateThreshold. The chain's tip
// (l.prevHMAC) is left untouched, so the next event continues the chain
// seamlessly in the fresh file.
func (l *Log) rotateIfNeeded(incoming int) error {
	info, err := os.Stat(l.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(err, "statting audit log")
	}
	if info.Size()+int64(incoming) <= RotateThreshold {
		return nil
	}

	rotated := fmt.Sprintf("%s.%s", l.logPath, time.Now().UTC().Format("20060102T150405Z"))
	if err := os.Rename(l.logPath, rotated); err != nil {
		return errs.Wrap(err, "rotating audit log")
	}
	return nil
}

// VerifyChain re-derives every event's HMAC from its recorded prev_hmac
// and body, in file order, and checks that each event after the first
// records the preceding event's hmac as its prev_hmac, returning an
// error at the first mismatch. HMAC comparison is constant-time.
func VerifyChain(logPath string, secretKey []byte) error {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return errs.Wrap(err, "reading audit log for verification")
	}
	lines := bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))

	var lastHMACHex string
	for i, line := range lines {
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return errs.Wrapf(errs.ErrIntegrityFailure, "line %d: malformed event: %v", i, err)
		}
		if lastHMACHex != "" && ev.PrevHMACHex != lastHMACHex {
			return errs.Wrapf(errs.ErrIntegrityFailure, "line %d: prev_hmac does not match preceding event", i)
		}
		bodyBytes, err := json.Marshal(ev.body)
		if err != nil {
			return errs.Wrap(err, "re-marshaling event body")
		}
		prevHMAC, err := hex.DecodeString(ev.PrevHMACHex)
		if err != nil {
			return errs.Wrapf(errs.ErrIntegrityFailure, "line %d: malformed prev_hmac: %v", i, err)
		}
		mac := hmac.New(sha256.New, secretKey)
		mac.Write(prevHMAC)
		mac.Write(bodyBytes)
		want := mac.Sum(nil)

		got, err := hex.DecodeString(ev.HMACHex)
		if err != nil {
			return errs.Wrapf(errs.ErrIntegrityFailure, "line %d: malformed hmac: %v", i, err)
		}
		if subtle.ConstantTimeCompare(want, got) != 1 {
			return errs.Wrapf(errs.ErrIntegrityFailure, "line %d: hmac chain broken", i)
		}
		lastHMACHex = ev.HMACHex
	}
	return nil
}

// SecretPath returns the path of log's HMAC key file.
func SecretPath(logPath string) string { return logPath + ".secret" }

// DefaultPath returns destination/audit.log.
func DefaultPath(destination string) string { return filepath.Join(destination, "audit.log") }
