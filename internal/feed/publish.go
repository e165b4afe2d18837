package feed

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	ical "github.com/arran4/golang-ical"

	appLog "untisfeed/internal/log"
)

// Publish writes the rendered feed to path atomically: the content is
// staged in a temp file and only renamed into place after it has been
// fully written and re-parsed successfully. A failed run therefore
// never overwrites a previously valid feed with empty or partial data.
func Publish(path string, data []byte) error {
	if path == "" {
		return fmt.Errorf("feed: output path is empty")
	}

	// Sanity gate: the staged document must parse as a calendar before
	// it replaces anything.
	if _, err := ical.ParseCalendar(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("feed: staged document does not parse: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".untisfeed-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	appLog.Info("feed published", "path", path, "bytes", len(data))
	return nil
}

// Parse reads a calendar document back into its event components. Used
// by the round-trip tests and available to callers that want to inspect
// a published feed.
func Parse(data []byte) (*ical.Calendar, error) {
	cal, err := ical.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("feed: parse: %w", err)
	}
	return cal, nil
}
