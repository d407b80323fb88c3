package statestore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const (
	latestName    = "runtime_state_latest.json"
	checksumName  = "runtime_state_latest.sha256"
	versionsDir   = "versions"
	quarantineDir = "quarantine"

	versionStamp = "20060102T150405.000Z"
)

// Store persists runtime checkpoints with a content checksum. A corrupt
// checkpoint is never deleted; it is moved into quarantine and the run
// proceeds as though no checkpoint existed.
type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) *Store {
	return &Store{
		dir: dir,
		now: time.Now,
	}
}

// Save writes the snapshot as the new latest checkpoint plus a timestamped
// copy under versions/. The checksum covers the exact serialized payload.
func (s *Store) Save(snap RuntimeSnapshot) error {
	snap.SchemaVersion = SchemaVersion
	snap.CheckpointUTC = s.now().UTC()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal runtime snapshot")
	}
	checksum := checksumHex(data)

	if err := os.MkdirAll(filepath.Join(s.dir, versionsDir), 0o755); err != nil {
		return errors.Wrap(err, "create state directories")
	}

	if err := os.WriteFile(filepath.Join(s.dir, latestName), data, 0o644); err != nil {
		return errors.Wrap(err, "write latest checkpoint")
	}
	if err := os.WriteFile(filepath.Join(s.dir, checksumName), []byte(checksum+"\n"), 0o644); err != nil {
		return errors.Wrap(err, "write checkpoint checksum")
	}

	versionName := fmt.Sprintf("runtime_state_%s.json", snap.CheckpointUTC.Format(versionStamp))
	if err := os.WriteFile(filepath.Join(s.dir, versionsDir, versionName), data, 0o644); err != nil {
		return errors.Wrap(err, "write versioned checkpoint")
	}
	return nil
}

// TryLoadLatest loads the latest checkpoint if one exists and is intact.
// A nil snapshot with an empty warning means a clean fresh start; a nil
// snapshot with a warning means the stored checkpoint was unusable.
func (s *Store) TryLoadLatest() (*RuntimeSnapshot, string) {
	latestPath := filepath.Join(s.dir, latestName)
	if _, err := os.Stat(latestPath); err != nil {
		return nil, ""
	}

	data, err := os.ReadFile(latestPath)
	if err != nil {
		return nil, s.quarantine(fmt.Sprintf("checkpoint unreadable: %v", err))
	}

	checksumData, err := os.ReadFile(filepath.Join(s.dir, checksumName))
	if err != nil {
		return nil, s.quarantine(fmt.Sprintf("checksum file unreadable: %v", err))
	}
	stored := strings.TrimSpace(string(checksumData))
	if actual := checksumHex(data); !strings.EqualFold(stored, actual) {
		return nil, s.quarantine(fmt.Sprintf("checksum mismatch: stored=%s actual=%s", stored, actual))
	}

	var snap RuntimeSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, s.quarantine(fmt.Sprintf("checkpoint deserialize failed: %v", err))
	}

	if snap.SchemaVersion != SchemaVersion {
		warning := fmt.Sprintf("checkpoint schema version %d does not match %d, ignoring checkpoint", snap.SchemaVersion, SchemaVersion)
		logs.Warn(warning)
		return nil, warning
	}

	return &snap, ""
}

// quarantine moves the latest checkpoint files aside and returns the warning
// to surface. Files are renamed, never deleted.
func (s *Store) quarantine(reason string) string {
	stamp := s.now().UTC().Format(versionStamp)
	dir := filepath.Join(s.dir, quarantineDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logs.Errorf("create quarantine directory, err: %+v", err)
	}

	for _, name := range []string{latestName, checksumName} {
		src := filepath.Join(s.dir, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(dir, stamp+"_"+name)
		if err := os.Rename(src, dst); err != nil {
			logs.Errorf("quarantine %s, err: %+v", name, err)
		}
	}

	warning := "checkpoint quarantined: " + reason
	logs.Warn(warning)
	return warning
}

func checksumHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
