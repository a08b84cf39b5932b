package compaction

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"eduapp/pkg/logger"
)

var errNotOwner = errors.New("lease: not owner")

// fileLease is a cross-process lock file with an expiry. Creation is atomic
// through a hard link; an expired lease may be taken over.
type fileLease struct {
	path string
	now  func() time.Time
}

type leaseFile struct {
	Owner   string `json:"owner"`
	Expires string `json:"expires"`
}

func newFileLease(dir string, now func() time.Time) *fileLease {
	return &fileLease{path: filepath.Join(dir, "compaction.lock"), now: now}
}

func (l *fileLease) write(tmp, owner string, ttl time.Duration) error {
	b, err := json.Marshal(leaseFile{Owner: owner, Expires: l.now().Add(ttl).UTC().Format(time.RFC3339Nano)})
	if err != nil {
		return err
	}
	return os.WriteFile(tmp, b, 0o600)
}

func (l *fileLease) read() (leaseFile, error) {
	var lf leaseFile
	data, err := os.ReadFile(l.path)
	if err != nil {
		return lf, err
	}
	err = json.Unmarshal(data, &lf)
	return lf, err
}

func (l *fileLease) Acquire(owner string, ttl time.Duration) (bool, error) {
	tmp := l.path + "." + owner + ".tmp"
	if err := l.write(tmp, owner, ttl); err != nil {
		logger.Error("lease_tmp_write_failed", "path", tmp, "error", err)
		return false, err
	}
	defer os.Remove(tmp)
	if err := os.Link(tmp, l.path); err == nil {
		logger.Debug("lease_acquired", "path", l.path, "owner", owner)
		return true, nil
	}
	existing, err := l.read()
	if err != nil {
		return false, fmt.Errorf("read lease: %w", err)
	}
	exp, err := time.Parse(time.RFC3339Nano, existing.Expires)
	if err == nil && exp.After(l.now()) {
		logger.Info("lease_currently_held", "path", l.path, "owner", existing.Owner)
		return false, nil
	}
	if err := os.Rename(tmp, l.path); err != nil {
		logger.Error("lease_replace_failed", "path", l.path, "error", err)
		return false, err
	}
	logger.Info("lease_taken_over", "path", l.path, "owner", owner, "previous", existing.Owner)
	return true, nil
}

func (l *fileLease) Renew(owner string, ttl time.Duration) error {
	existing, err := l.read()
	if err != nil {
		return err
	}
	if existing.Owner != owner {
		return errNotOwner
	}
	tmp := l.path + "." + owner + ".tmp"
	if err := l.write(tmp, owner, ttl); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

func (l *fileLease) Release(owner string) error {
	existing, err := l.read()
	if err != nil {
		return err
	}
	if existing.Owner != owner {
		logger.Error("lease_release_not_owner", "owner", owner, "holder", existing.Owner)
		return errNotOwner
	}
	return os.Remove(l.path)
}
