package journal

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"log"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Level classifies a journal entry. Severe is reserved for failures that can
// leave an entry stranded in a scratch directory, i.e. visible data loss if
// the user doesn't notice.
type Level int

const (
	Info Level = iota
	Warn
	Error
	Severe
)

func (l Level) String() string {
	switch l {
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Severe:
		return "SEVERE"
	default:
		return "UNKNOWN"
	}
}

// Entry is one human-readable journal line.
type Entry struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
}

const memoryCap = 2048

var entriesBucket = []byte("entries")

// Journal is the single outward log stream: every per-entry action, warning
// and caught error of a reorder goes through it. Entries are kept in memory
// (capped), fanned out to subscribers, mirrored to the standard logger and,
// when a database is attached, appended to a bbolt bucket.
type Journal struct {
	mu      sync.Mutex
	seq     uint64
	entries []Entry
	subs    map[chan Entry]struct{}
	db      *bolt.DB
}

// Open creates a journal. dbPath may be empty, in which case entries are
// kept in memory only.
func Open(dbPath string) (*Journal, error) {
	j := &Journal{subs: make(map[chan Entry]struct{})}

	if dbPath != "" {
		db, err := bolt.Open(dbPath, 0644, &bolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, fmt.Errorf("failed to open journal db: %w", err)
		}
		err = db.Update(func(tx *bolt.Tx) error {
			b, err := tx.CreateBucketIfNotExists(entriesBucket)
			if err != nil {
				return err
			}
			// Continue the sequence where an earlier run left off.
			if k, _ := b.Cursor().Last(); k != nil {
				j.seq = binary.BigEndian.Uint64(k)
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create journal bucket: %w", err)
		}
		j.db = db
	}

	return j, nil
}

// Close releases the journal database, if any.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func (j *Journal) Infof(format string, args ...interface{})   { j.append(Info, format, args...) }
func (j *Journal) Warnf(format string, args ...interface{})   { j.append(Warn, format, args...) }
func (j *Journal) Errorf(format string, args ...interface{})  { j.append(Error, format, args...) }
func (j *Journal) Severef(format string, args ...interface{}) { j.append(Severe, format, args...) }

func (j *Journal) append(level Level, format string, args ...interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	entry := Entry{
		Seq:     j.seq,
		Time:    time.Now(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	}

	j.entries = append(j.entries, entry)
	if len(j.entries) > memoryCap {
		j.entries = j.entries[len(j.entries)-memoryCap:]
	}

	log.Printf("[%s] %s", entry.Level, entry.Message)

	if j.db != nil {
		if err := j.persist(entry); err != nil {
			log.Printf("Failed to persist journal entry: %v", err)
		}
	}

	for ch := range j.subs {
		// Slow subscribers lose entries rather than block the writer.
		select {
		case ch <- entry:
		default:
		}
	}
}

func (j *Journal) persist(entry Entry) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Put(itob(entry.Seq), buf.Bytes())
	})
}

// Subscribe registers a channel that receives every new entry. The channel
// is buffered; entries are dropped, not queued, when it is full.
func (j *Journal) Subscribe() chan Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	ch := make(chan Entry, 64)
	j.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (j *Journal) Unsubscribe(ch chan Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.subs[ch]; ok {
		delete(j.subs, ch)
		close(ch)
	}
}

// Entries returns a snapshot of the in-memory entries.
func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// Stored reads every persisted entry back from the database in sequence
// order. Returns nil when no database is attached.
func (j *Journal) Stored() ([]Entry, error) {
	j.mu.Lock()
	db := j.db
	j.mu.Unlock()
	if db == nil {
		return nil, nil
	}

	var out []Entry
	err := db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(_, v []byte) error {
			var e Entry
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
