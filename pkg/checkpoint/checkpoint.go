// Package checkpoint manages the journal and snapshot facilities shared by
// both tree variants. Every successful metadata write appends one record to
// the journal; Latest recovers the newest record by scanning the journal
// tail, which stays cheap no matter how long the index has lived.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/google/uuid"
	"github.com/icza/backscanner"
	"github.com/otiai10/copy"

	"nirdb/pkg/config"
	"nirdb/pkg/storage"
)

// Record is one checkpoint: which root handle was durable at the time, over
// how many pages.
type Record struct {
	ID        uuid.UUID
	Root      storage.Handle
	PageCount int64
}

// ErrNoCheckpoint is returned when the journal holds no records.
var ErrNoCheckpoint = errors.New("no checkpoint recorded")

// Regex pattern for a uuid.
const uuidPattern = "[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}"

var recordExp = regexp.MustCompile(fmt.Sprintf(
	"< (?P<id>%s), root (?P<page>\\d+):(?P<offset>\\d+):(?P<type>\\d+), pages (?P<pages>\\d+) >", uuidPattern))

// Manager appends to and recovers from one index's checkpoint journal.
type Manager struct {
	backingFile string
	journal     *os.File
	mtx         sync.Mutex
}

// New opens (or creates) the journal next to the given backing file.
func New(backingFile string) (*Manager, error) {
	journal, err := os.OpenFile(backingFile+config.JournalSuffix, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}
	return &Manager{backingFile: backingFile, journal: journal}, nil
}

// Record appends a checkpoint record and syncs the journal.
func (m *Manager) Record(root storage.Handle, pageCount int64) (Record, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	rec := Record{ID: uuid.New(), Root: root, PageCount: pageCount}
	line := fmt.Sprintf("< %s, root %d:%d:%d, pages %d >\n",
		rec.ID, rec.Root.PageID, rec.Root.Offset, rec.Root.Type, rec.PageCount)
	if _, err := m.journal.WriteString(line); err != nil {
		return Record{}, fmt.Errorf("error writing checkpoint record: %w", err)
	}
	if err := m.journal.Sync(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Latest returns the newest record in the journal, scanning backward from
// the end.
func (m *Manager) Latest() (Record, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	fstats, err := m.journal.Stat()
	if err != nil {
		return Record{}, err
	}
	scanner := backscanner.New(m.journal, int(fstats.Size()))
	for {
		line, _, err := scanner.Line()
		if err == io.EOF {
			return Record{}, ErrNoCheckpoint
		}
		if err != nil {
			return Record{}, err
		}
		if rec, ok := parseRecord(line); ok {
			return rec, nil
		}
	}
}

// parseRecord decodes one journal line.
func parseRecord(line string) (Record, bool) {
	match := recordExp.FindStringSubmatch(line)
	if match == nil {
		return Record{}, false
	}
	var pageID uint32
	var offset, typ uint16
	var pages int64
	id := uuid.MustParse(match[1])
	fmt.Sscanf(match[2], "%d", &pageID)
	fmt.Sscanf(match[3], "%d", &offset)
	fmt.Sscanf(match[4], "%d", &typ)
	fmt.Sscanf(match[5], "%d", &pages)
	return Record{
		ID:        id,
		Root:      storage.NewHandle(pageID, offset, storage.HandleType(typ)),
		PageCount: pages,
	}, true
}

// Snapshot copies the backing file and its sidecars into the destination
// directory. The index should be checkpointed first so the copy is
// self-contained.
func (m *Manager) Snapshot(destDir string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if err := os.MkdirAll(destDir, 0775); err != nil {
		return err
	}
	for _, suffix := range []string{"", config.MetaSuffix, config.JournalSuffix} {
		src := m.backingFile + suffix
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(destDir, filepath.Base(src))
		if err := copy.Copy(src, dst); err != nil {
			return fmt.Errorf("error snapshotting %s: %w", src, err)
		}
	}
	return nil
}

// Close closes the journal file.
func (m *Manager) Close() error {
	return m.journal.Close()
}
