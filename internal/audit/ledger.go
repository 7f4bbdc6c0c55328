// Package audit writes the append-only per-device record channels: success,
// failed, ignored and duplicate. Lines are tab-separated and carry enough to
// replay a record by hand. The success channel doubles as the durable proof
// of delivery: its last line supplies the attendance resume point.
package audit

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/meden/biosync/internal/model"
)

type Channel string

const (
	ChannelSuccess   Channel = "success"
	ChannelFailed    Channel = "failed"
	ChannelIgnored   Channel = "ignored"
	ChannelDuplicate Channel = "duplicate"
)

const tsLayout = time.RFC3339

type Ledger struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, model.StorageError{Key: dir, Err: err}
	}

	return &Ledger{dir: dir}, nil
}

func (l *Ledger) path(deviceID string, ch Channel) string {
	return filepath.Join(l.dir, sanitize(deviceID)+"_"+string(ch)+".log")
}

// Append writes one line to a channel. Fields: record timestamp, user id,
// punch value, direction, HTTP status, raw payload, logged-at.
func (l *Ledger) Append(deviceID string, ch Channel, rec model.AttendanceRecord, dir model.Direction, status int, payload string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path(deviceID, ch), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return model.StorageError{Key: string(ch) + "_" + deviceID, Err: err}
	}

	line := fmt.Sprintf("%s\t%s\t%d\t%s\t%d\t%s\t%s\n",
		rec.Timestamp.Format(tsLayout),
		rec.UserID,
		rec.Punch,
		dir,
		status,
		flatten(payload),
		time.Now().Format(tsLayout),
	)

	if _, err = f.WriteString(line); err != nil {
		_ = f.Close()
		return model.StorageError{Key: string(ch) + "_" + deviceID, Err: err}
	}

	if err = f.Close(); err != nil {
		return model.StorageError{Key: string(ch) + "_" + deviceID, Err: err}
	}

	return nil
}

// LastSuccess returns the record timestamp of the last confirmed delivery
// for a device. It reads the last line, not a max-timestamp scan: the ledger
// and the buffer share device retrieval order and the resume contract keys
// off position, not sorting.
func (l *Ledger) LastSuccess(deviceID string) (time.Time, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path(deviceID, ChannelSuccess))
	if os.IsNotExist(err) {
		return time.Time{}, false, nil
	} else if err != nil {
		return time.Time{}, false, model.StorageError{Key: "success_" + deviceID, Err: err}
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}

	if err = scanner.Err(); err != nil {
		return time.Time{}, false, model.StorageError{Key: "success_" + deviceID, Err: err}
	}

	if last == "" {
		return time.Time{}, false, nil
	}

	fields := strings.SplitN(last, "\t", 2)
	ts, err := time.Parse(tsLayout, fields[0])
	if err != nil {
		return time.Time{}, false, model.StorageError{Key: "success_" + deviceID, Err: fmt.Errorf("parsing ledger line: %w", err)}
	}

	return ts, true, nil
}

// Lines returns all lines of one channel, oldest first. Used by the
// operational surface; the reconciler itself only needs LastSuccess.
func (l *Ledger) Lines(deviceID string, ch Channel) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path(deviceID, ch))
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, model.StorageError{Key: string(ch) + "_" + deviceID, Err: err}
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}

	if err = scanner.Err(); err != nil {
		return nil, model.StorageError{Key: string(ch) + "_" + deviceID, Err: err}
	}

	return lines, nil
}

func flatten(s string) string {
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, strings.ToLower(id))
}
