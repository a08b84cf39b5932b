package keys

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"eduapp/pkg/store/collate"
)

var dbNameRe = regexp.MustCompile(`^[a-z][a-z0-9_$()+/-]*$`)

// ValidateDatabaseName applies the document store's database naming rules.
func ValidateDatabaseName(name string) error {
	if len(name) > 238 || !dbNameRe.MatchString(name) {
		return fmt.Errorf("illegal database name %q", name)
	}
	return nil
}

// ValidateDocID rejects empty ids and ids the key layout cannot carry.
func ValidateDocID(id string) error {
	if id == "" {
		return fmt.Errorf("empty document id")
	}
	if strings.IndexByte(id, 0x00) >= 0 {
		return fmt.Errorf("document id contains a NUL byte")
	}
	if strings.HasPrefix(id, "_") && !strings.HasPrefix(id, "_design/") {
		return fmt.Errorf("document id %q: only design documents may start with '_'", id)
	}
	return nil
}

func GenDatabaseKey(db string) []byte {
	return []byte(fmt.Sprintf(DatabaseKey, db))
}

func GenDocumentKey(db, id string) []byte {
	return []byte(fmt.Sprintf(DocumentKey, db, id))
}

func GenDocumentPrefix(db string) []byte {
	return []byte(fmt.Sprintf(DocumentPrefix, db))
}

// ParseDocumentKey returns the document id of a key under GenDocumentPrefix(db).
func ParseDocumentKey(db string, key []byte) (string, error) {
	prefix := fmt.Sprintf(DocumentPrefix, db)
	s := string(key)
	if !strings.HasPrefix(s, prefix) {
		return "", fmt.Errorf("key %q is not a document of %s", s, db)
	}
	return s[len(prefix):], nil
}

func GenViewRowPrefix(db, ddoc, view string) []byte {
	return []byte(fmt.Sprintf(ViewRowPrefix, db, ddoc, view))
}

// GenViewKeyPrefix is the prefix shared by every row that emitted key.
func GenViewKeyPrefix(db, ddoc, view string, key any) []byte {
	return collate.Append(GenViewRowPrefix(db, ddoc, view), key)
}

// GenViewRowKey is unique per (view, emitted key, document, emission).
// Document ids never contain NUL, so the id ends at the last NUL byte.
func GenViewRowKey(db, ddoc, view string, key any, docID string, seq int) []byte {
	k := append(GenViewKeyPrefix(db, ddoc, view, key), docID...)
	return append(k, fmt.Sprintf("\x00%04x", seq)...)
}

// ParseViewRowDocID extracts the document id from a row key given the
// length of its key prefix.
func ParseViewRowDocID(rowKey []byte, prefixLen int) (string, error) {
	if prefixLen > len(rowKey) {
		return "", fmt.Errorf("malformed view row key")
	}
	rest := rowKey[prefixLen:]
	i := bytes.LastIndexByte(rest, 0x00)
	if i < 0 {
		return "", fmt.Errorf("malformed view row key")
	}
	return string(rest[:i]), nil
}

func GenViewDesignPrefix(db, ddoc string) []byte {
	return []byte(fmt.Sprintf(ViewDesignPfx, db, ddoc))
}

func GenViewBackref(db, ddoc, docID string) []byte {
	return []byte(fmt.Sprintf(ViewBackref, db, ddoc, docID))
}

func GenViewBackrefPrefix(db, ddoc string) []byte {
	return []byte(fmt.Sprintf(ViewBackrefPfx, db, ddoc))
}

func GenTombstoneKey(db string, deletedAt time.Time, docID string) []byte {
	return []byte(fmt.Sprintf(TombstoneKey, db, padTS(deletedAt.UnixNano()), docID))
}

func GenTombstonePrefix(db string) []byte {
	return []byte(fmt.Sprintf(TombstonePfx, db))
}

// GenTombstoneUpperBound bounds a scan to tombstones recorded before t.
func GenTombstoneUpperBound(db string, t time.Time) []byte {
	return []byte(fmt.Sprintf(TombstonePfx+"%s", db, padTS(t.UnixNano())))
}

// ParseTombstoneKey splits a tombstone key into deletion time and document id.
func ParseTombstoneKey(db string, key []byte) (time.Time, string, error) {
	prefix := fmt.Sprintf(TombstonePfx, db)
	s := string(key)
	if !strings.HasPrefix(s, prefix) {
		return time.Time{}, "", fmt.Errorf("key %q is not a tombstone of %s", s, db)
	}
	rest := s[len(prefix):]
	if len(rest) < TSPadWidth+1 || rest[TSPadWidth] != ':' {
		return time.Time{}, "", fmt.Errorf("malformed tombstone key %q", s)
	}
	ns, err := strconv.ParseInt(rest[:TSPadWidth], 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("malformed tombstone key %q: %w", s, err)
	}
	return time.Unix(0, ns).UTC(), rest[TSPadWidth+1:], nil
}

// UpperBound returns the smallest key greater than every key with prefix.
func UpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func padTS(ns int64) string {
	if ns < 0 {
		ns = 0
	}
	return fmt.Sprintf("%0*d", TSPadWidth, ns)
}
